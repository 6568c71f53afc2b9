package knn

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/goguard/pkg/matrix"
)

// Aggregation selects how neighbor values are combined into one.
type Aggregation string

// Supported aggregations.
//
// Mode is meant for label-encoded categorical columns: every neighbor
// value must be a non-negative integer code, otherwise the cell fails with
// ErrData.
const (
	Mean   Aggregation = "mean"
	Median Aggregation = "median"
	Mode   Aggregation = "mode"
)

// ParseAggregation resolves an aggregation name.
func ParseAggregation(name string) (Aggregation, error) {
	a := Aggregation(strings.ToLower(strings.TrimSpace(name)))
	if err := a.Validate(); err != nil {
		return "", err
	}
	return a, nil
}

// Validate returns ErrUnsupportedAggregation for unknown aggregations.
func (a Aggregation) Validate() error {
	switch a {
	case Mean, Median, Mode:
		return nil
	}
	return fmt.Errorf("%w: %q", matrix.ErrUnsupportedAggregation, string(a))
}

// Apply combines values. Mean and median skip missing entries; mode does
// not accept them.
func (a Aggregation) Apply(values []float64) (float64, error) {
	switch a {
	case Mean:
		present := observed(values)
		if len(present) == 0 {
			return 0, fmt.Errorf("%w: no observed neighbor values", matrix.ErrData)
		}
		return stat.Mean(present, nil), nil
	case Median:
		present := observed(values)
		if len(present) == 0 {
			return 0, fmt.Errorf("%w: no observed neighbor values", matrix.ErrData)
		}
		return median(present), nil
	case Mode:
		return mode(values)
	}
	return 0, a.Validate()
}

func observed(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !matrix.IsMissing(v) {
			out = append(out, v)
		}
	}
	return out
}

// median averages the two middle values for even-length input.
func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// mode returns the most frequent code, the smallest one on ties.
func mode(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: no neighbor values", matrix.ErrData)
	}

	counts := make(map[float64]int, len(values))
	for _, v := range values {
		if math.IsNaN(v) || v < 0 || v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: mode needs non-negative integer codes, got %v", matrix.ErrData, v)
		}
		counts[v]++
	}

	best, bestCount := math.Inf(1), 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best, nil
}
