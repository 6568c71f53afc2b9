package kmeans

import (
	"golang.org/x/sync/errgroup"
)

// minRowsPerWorker keeps tiny matrices on the calling goroutine.
const minRowsPerWorker = 256

// assign writes the nearest centroid and its distance for every row into
// labels and dists. Each worker owns a disjoint row range, so the result is
// the same for any worker count.
func (km *KMeans) assign(x, centroids [][]float64, labels []int, dists []float64) error {
	n := len(x)
	workers := km.workers
	if workers > n/minRowsPerWorker {
		workers = n / minRowsPerWorker
	}
	if workers <= 1 {
		assignRange(x, centroids, labels, dists, 0, n)
		return nil
	}

	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	for start := 0; start < n; start += chunk {
		lo, hi := start, min(start+chunk, n)
		g.Go(func() error {
			assignRange(x, centroids, labels, dists, lo, hi)
			return nil
		})
	}
	return g.Wait()
}

func assignRange(x, centroids [][]float64, labels []int, dists []float64, lo, hi int) {
	for i := lo; i < hi; i++ {
		labels[i], dists[i] = nearest(x[i], centroids)
	}
}
