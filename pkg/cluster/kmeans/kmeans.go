// Package kmeans implements Lloyd's K-Means clustering over dense feature
// matrices with seeded, reproducible initialization.
package kmeans

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/goguard/pkg/matrix"
)

// KMeans partitions rows into k groups minimising within-group squared
// distance to the group centroid.
type KMeans struct {
	mu sync.RWMutex

	// Configuration
	k         int
	maxIter   int
	tolerance float64
	seed      int64
	workers   int
	logger    *zap.Logger

	// Fitted model
	centroids [][]float64
	dim       int
	trained   bool
}

// Result is the outcome of one Fit.
type Result struct {
	// Centroids holds k points, the means of the final assignment.
	Centroids [][]float64
	// Labels holds one cluster index in [0, k) per input row.
	Labels []int
	// Iterations is the number of assignment/update rounds executed.
	Iterations int
	// Converged is false when the run stopped on the iteration cap.
	Converged bool
	// Inertia is the sum of squared distances from rows to their centroid.
	Inertia float64
	// InertiaHistory records the inertia of every assignment step.
	InertiaHistory []float64
}

// Option configures a KMeans.
type Option func(*KMeans)

// WithK sets the number of clusters.
func WithK(k int) Option {
	return func(km *KMeans) {
		km.k = k
	}
}

// WithMaxIterations sets the hard iteration cap.
func WithMaxIterations(n int) Option {
	return func(km *KMeans) {
		km.maxIter = n
	}
}

// WithTolerance sets the per-component centroid movement below which a run
// is considered converged.
func WithTolerance(tol float64) Option {
	return func(km *KMeans) {
		km.tolerance = tol
	}
}

// WithSeed sets the random seed for centroid initialization.
func WithSeed(seed int64) Option {
	return func(km *KMeans) {
		km.seed = seed
	}
}

// WithWorkers spreads the assignment step over n goroutines. Labels do not
// depend on n.
func WithWorkers(n int) Option {
	return func(km *KMeans) {
		km.workers = n
	}
}

// WithLogger sets the logger used for per-iteration debug output.
func WithLogger(l *zap.Logger) Option {
	return func(km *KMeans) {
		if l != nil {
			km.logger = l
		}
	}
}

// New creates a KMeans with the given options.
func New(opts ...Option) *KMeans {
	km := &KMeans{
		k:         5,
		maxIter:   100,
		tolerance: 1e-4,
		seed:      42,
		workers:   1,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(km)
	}

	return km
}

// K returns the configured number of clusters.
func (km *KMeans) K() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.k
}

func (km *KMeans) validateConfig() error {
	if km.k < 2 {
		return fmt.Errorf("%w: k must be at least 2, got %d", matrix.ErrInvalidConfiguration, km.k)
	}
	if km.maxIter < 1 {
		return fmt.Errorf("%w: max iterations must be positive, got %d", matrix.ErrInvalidConfiguration, km.maxIter)
	}
	if km.tolerance < 0 || math.IsNaN(km.tolerance) {
		return fmt.Errorf("%w: tolerance must be non-negative, got %v", matrix.ErrInvalidConfiguration, km.tolerance)
	}
	return nil
}

// Fit clusters data. The input is copied and never modified.
func (km *KMeans) Fit(data [][]float64) (*Result, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	if err := km.validateConfig(); err != nil {
		return nil, err
	}
	dim, err := matrix.ValidateComplete(data)
	if err != nil {
		return nil, err
	}
	n := len(data)
	if km.k > n {
		return nil, fmt.Errorf("%w: k=%d exceeds row count %d", matrix.ErrInvalidConfiguration, km.k, n)
	}

	x := matrix.Clone(data)

	// A fresh source per fit keeps repeated fits identical.
	rng := rand.New(rand.NewSource(km.seed))
	centroids := initCentroids(x, km.k, rng)

	labels := make([]int, n)
	dists := make([]float64, n)
	res := &Result{}

	for iter := 0; iter < km.maxIter; iter++ {
		if err := km.assign(x, centroids, labels, dists); err != nil {
			return nil, err
		}
		inertia := sumSquares(dists)
		res.InertiaHistory = append(res.InertiaHistory, inertia)

		next, reseeded := km.update(x, labels, centroids, rng)
		converged := hasConverged(centroids, next, km.tolerance)
		centroids = next
		res.Iterations = iter + 1

		km.logger.Debug("kmeans iteration",
			zap.Int("iteration", res.Iterations),
			zap.Float64("inertia", inertia),
			zap.Int("reseeded", reseeded),
			zap.Bool("converged", converged),
		)

		if converged {
			res.Converged = true
			break
		}
	}

	res.Centroids = matrix.Clone(centroids)
	res.Labels = labels
	res.Inertia = inertiaOf(x, centroids, labels)

	km.centroids = centroids
	km.dim = dim
	km.trained = true

	km.logger.Info("kmeans fit complete",
		zap.Int("k", km.k),
		zap.Int("rows", n),
		zap.Int("iterations", res.Iterations),
		zap.Bool("converged", res.Converged),
		zap.Float64("inertia", res.Inertia),
	)

	return res, nil
}

// initCentroids picks k distinct rows uniformly at random.
func initCentroids(x [][]float64, k int, rng *rand.Rand) [][]float64 {
	indices := rng.Perm(len(x))[:k]
	centroids := make([][]float64, k)
	for i, idx := range indices {
		centroids[i] = make([]float64, len(x[idx]))
		copy(centroids[i], x[idx])
	}
	return centroids
}

// update recomputes every centroid as the mean of its rows. A centroid
// left without rows is moved onto a randomly drawn row that is not the
// only member of its own cluster. It returns the new centroids and the
// number of reseeded ones.
func (km *KMeans) update(x [][]float64, labels []int, old [][]float64, rng *rand.Rand) ([][]float64, int) {
	k := len(old)
	dim := len(old[0])

	sums := make([][]float64, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	counts := make([]int, k)
	for i, row := range x {
		floats.Add(sums[labels[i]], row)
		counts[labels[i]]++
	}

	var donors []int
	reseeded := 0
	for c := 0; c < k; c++ {
		if counts[c] > 0 {
			floats.Scale(1/float64(counts[c]), sums[c])
			continue
		}

		if donors == nil {
			donors = make([]int, 0, len(x))
			for i := range x {
				if counts[labels[i]] > 1 {
					donors = append(donors, i)
				}
			}
		}
		var row int
		if len(donors) > 0 {
			pick := rng.Intn(len(donors))
			row = donors[pick]
			donors = append(donors[:pick], donors[pick+1:]...)
		} else {
			row = rng.Intn(len(x))
		}
		copy(sums[c], x[row])
		reseeded++

		km.logger.Debug("kmeans reseeded empty cluster",
			zap.Int("cluster", c),
			zap.Int("row", row),
		)
	}

	return sums, reseeded
}

// hasConverged reports whether every component of every centroid moved by
// less than tol.
func hasConverged(old, next [][]float64, tol float64) bool {
	for c := range old {
		for j := range old[c] {
			if !(math.Abs(next[c][j]-old[c][j]) < tol) {
				return false
			}
		}
	}
	return true
}

// nearest returns the index of the closest centroid and the Euclidean
// distance to it. Ties go to the lowest index.
func nearest(row []float64, centroids [][]float64) (int, float64) {
	best := 0
	bestDist := floats.Distance(row, centroids[0], 2)
	for c := 1; c < len(centroids); c++ {
		d := floats.Distance(row, centroids[c], 2)
		if d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best, bestDist
}

func sumSquares(dists []float64) float64 {
	var total float64
	for _, d := range dists {
		total += d * d
	}
	return total
}

func inertiaOf(x, centroids [][]float64, labels []int) float64 {
	var total float64
	for i, row := range x {
		d := floats.Distance(row, centroids[labels[i]], 2)
		total += d * d
	}
	return total
}

// Predict assigns each row of data to the nearest fitted centroid.
func (km *KMeans) Predict(data [][]float64) ([]int, error) {
	labels, _, err := km.Assign(data)
	return labels, err
}

// Assign is Predict that also returns the Euclidean distance from every row
// to its centroid.
func (km *KMeans) Assign(data [][]float64) ([]int, []float64, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	if !km.trained {
		return nil, nil, matrix.ErrNotFitted
	}
	cols, err := matrix.ValidateComplete(data)
	if err != nil {
		return nil, nil, err
	}
	if cols != km.dim {
		return nil, nil, fmt.Errorf("%w: got %d columns, model has %d", matrix.ErrData, cols, km.dim)
	}

	labels := make([]int, len(data))
	dists := make([]float64, len(data))
	if err := km.assign(data, km.centroids, labels, dists); err != nil {
		return nil, nil, err
	}
	return labels, dists, nil
}

// Centroids returns a copy of the fitted centroids.
func (km *KMeans) Centroids() ([][]float64, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	if !km.trained {
		return nil, matrix.ErrNotFitted
	}
	return matrix.Clone(km.centroids), nil
}

// Save serializes the fitted model.
func (km *KMeans) Save() ([]byte, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	if !km.trained {
		return nil, matrix.ErrNotFitted
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	for _, v := range []any{km.k, km.maxIter, km.tolerance, km.seed, km.dim, km.centroids} {
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Load restores a model produced by Save.
func (km *KMeans) Load(data []byte) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	dec := gob.NewDecoder(bytes.NewBuffer(data))

	for _, v := range []any{&km.k, &km.maxIter, &km.tolerance, &km.seed, &km.dim, &km.centroids} {
		if err := dec.Decode(v); err != nil {
			return err
		}
	}
	if len(km.centroids) != km.k {
		return fmt.Errorf("%w: model has %d centroids, want %d", matrix.ErrData, len(km.centroids), km.k)
	}

	km.trained = true
	return nil
}
