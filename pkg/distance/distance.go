// Package distance implements the row-to-row metrics used by the
// clustering and imputation engines, including masked variants that only
// look at features present in both rows.
package distance

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/goguard/pkg/matrix"
)

// Metric identifies a distance function.
type Metric string

// Supported metrics.
const (
	Euclidean   Metric = "euclidean"
	SqEuclidean Metric = "sqeuclidean"
	Manhattan   Metric = "manhattan"
	Chebyshev   Metric = "chebyshev"
	Cosine      Metric = "cosine"
)

// Metrics lists every supported metric.
func Metrics() []Metric {
	return []Metric{Euclidean, SqEuclidean, Manhattan, Chebyshev, Cosine}
}

// ParseMetric resolves a metric name. "cityblock" is accepted as an alias
// of manhattan.
func ParseMetric(name string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(name)))
	if m == "cityblock" {
		return Manhattan, nil
	}
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

// Validate returns ErrUnsupportedMetric for unknown metrics.
func (m Metric) Validate() error {
	switch m {
	case Euclidean, SqEuclidean, Manhattan, Chebyshev, Cosine:
		return nil
	}
	return fmt.Errorf("%w: %q", matrix.ErrUnsupportedMetric, string(m))
}

// Between returns the distance between a and b, which must have the same
// length. Unknown metrics yield NaN; callers validate beforehand.
func (m Metric) Between(a, b []float64) float64 {
	switch m {
	case Euclidean:
		return floats.Distance(a, b, 2)
	case SqEuclidean:
		d := floats.Distance(a, b, 2)
		return d * d
	case Manhattan:
		return floats.Distance(a, b, 1)
	case Chebyshev:
		return floats.Distance(a, b, math.Inf(1))
	case Cosine:
		return cosine(a, b)
	}
	return math.NaN()
}

// Masked returns the distance between a and b computed over the columns
// where neither value is missing, together with the number of such
// columns. When no column is shared the distance is +Inf so that the pair
// ranks after every pair with at least one shared feature.
func (m Metric) Masked(a, b []float64) (float64, int) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	va := make([]float64, 0, n)
	vb := make([]float64, 0, n)
	for j := 0; j < n; j++ {
		if matrix.IsMissing(a[j]) || matrix.IsMissing(b[j]) {
			continue
		}
		va = append(va, a[j])
		vb = append(vb, b[j])
	}
	if len(va) == 0 {
		return math.Inf(1), 0
	}
	return m.Between(va, vb), len(va)
}

// cosine distance is 1 - cos(a, b). A zero vector has no direction, so any
// pair involving one is treated as orthogonal.
func cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - floats.Dot(a, b)/(na*nb)
}
