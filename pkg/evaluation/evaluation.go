// Package evaluation scores clustering and anomaly-detection results.
package evaluation

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/goguard/pkg/matrix"
)

// Inertia returns the sum of squared Euclidean distances from every row to
// the centroid of its label.
func Inertia(data, centroids [][]float64, labels []int) (float64, error) {
	if len(labels) != len(data) {
		return 0, fmt.Errorf("%w: %d labels for %d rows", matrix.ErrData, len(labels), len(data))
	}
	var total float64
	for i, row := range data {
		l := labels[i]
		if l < 0 || l >= len(centroids) {
			return 0, fmt.Errorf("%w: label %d out of range", matrix.ErrData, l)
		}
		if len(row) != len(centroids[l]) {
			return 0, fmt.Errorf("%w: row %d has %d columns, centroid has %d", matrix.ErrData, i, len(row), len(centroids[l]))
		}
		d := floats.Distance(row, centroids[l], 2)
		total += d * d
	}
	return total, nil
}

// Silhouette returns the mean silhouette coefficient over all rows using
// Euclidean distance. Rows alone in their cluster score 0. At least two
// distinct labels are required.
//
// The computation is quadratic in the number of rows; callers with large
// matrices should pass a sample.
func Silhouette(data [][]float64, labels []int) (float64, error) {
	n := len(data)
	if n != len(labels) {
		return 0, fmt.Errorf("%w: %d labels for %d rows", matrix.ErrData, len(labels), n)
	}
	if _, err := matrix.ValidateComplete(data); err != nil {
		return 0, err
	}

	sizes := make(map[int]int)
	for _, l := range labels {
		sizes[l]++
	}
	if len(sizes) < 2 || len(sizes) >= n {
		return 0, fmt.Errorf("%w: silhouette needs 2..n-1 clusters, got %d", matrix.ErrData, len(sizes))
	}

	var total float64
	sums := make(map[int]float64, len(sizes))
	for i := 0; i < n; i++ {
		clear(sums)
		for r := 0; r < n; r++ {
			if r == i {
				continue
			}
			sums[labels[r]] += floats.Distance(data[i], data[r], 2)
		}

		own := labels[i]
		if sizes[own] == 1 {
			continue
		}
		a := sums[own] / float64(sizes[own]-1)

		b := -1.0
		for l, size := range sizes {
			if l == own {
				continue
			}
			mean := sums[l] / float64(size)
			if b < 0 || mean < b {
				b = mean
			}
		}

		if m := max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(n), nil
}

// Classification holds binary-classification quality figures where the
// positive class is "anomaly".
type Classification struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	TrueNegatives  int     `json:"true_negatives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Classify compares predicted anomaly flags with ground truth. Undefined
// ratios (no predicted or no actual positives) are reported as 0.
func Classify(truth, predicted []bool) (Classification, error) {
	if len(truth) != len(predicted) {
		return Classification{}, fmt.Errorf("%w: %d truth values for %d predictions", matrix.ErrData, len(truth), len(predicted))
	}

	var c Classification
	for i, t := range truth {
		switch p := predicted[i]; {
		case t && p:
			c.TruePositives++
		case !t && p:
			c.FalsePositives++
		case t && !p:
			c.FalseNegatives++
		default:
			c.TrueNegatives++
		}
	}

	if d := c.TruePositives + c.FalsePositives; d > 0 {
		c.Precision = float64(c.TruePositives) / float64(d)
	}
	if d := c.TruePositives + c.FalseNegatives; d > 0 {
		c.Recall = float64(c.TruePositives) / float64(d)
	}
	if s := c.Precision + c.Recall; s > 0 {
		c.F1 = 2 * c.Precision * c.Recall / s
	}
	return c, nil
}
