package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/goguard/pkg/matrix"
)

func TestParseMetric(t *testing.T) {
	tests := []struct {
		in      string
		want    Metric
		wantErr bool
	}{
		{in: "euclidean", want: Euclidean},
		{in: " Manhattan ", want: Manhattan},
		{in: "cityblock", want: Manhattan},
		{in: "cosine", want: Cosine},
		{in: "hamming", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := ParseMetric(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, matrix.ErrUnsupportedMetric)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m)
		})
	}
}

func TestBetween(t *testing.T) {
	a := []float64{0, 0}
	b := []float64{3, 4}

	assert.InDelta(t, 5.0, Euclidean.Between(a, b), 1e-12)
	assert.InDelta(t, 25.0, SqEuclidean.Between(a, b), 1e-12)
	assert.InDelta(t, 7.0, Manhattan.Between(a, b), 1e-12)
	assert.InDelta(t, 4.0, Chebyshev.Between(a, b), 1e-12)
	assert.InDelta(t, 0.0, Cosine.Between([]float64{1, 1}, []float64{2, 2}), 1e-12)
	assert.InDelta(t, 1.0, Cosine.Between([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.Equal(t, 1.0, Cosine.Between(a, b))
	assert.True(t, math.IsNaN(Metric("bogus").Between(a, b)))
}

func TestMasked(t *testing.T) {
	nan := matrix.Missing()

	d, shared := Euclidean.Masked([]float64{1, nan, 3}, []float64{4, 5, nan})
	assert.Equal(t, 1, shared)
	assert.InDelta(t, 3.0, d, 1e-12)

	d, shared = Manhattan.Masked([]float64{1, 2, 3}, []float64{2, 4, 6})
	assert.Equal(t, 3, shared)
	assert.InDelta(t, 6.0, d, 1e-12)

	d, shared = Euclidean.Masked([]float64{nan, 1}, []float64{1, nan})
	assert.Equal(t, 0, shared)
	assert.True(t, math.IsInf(d, 1))
}
