package knn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/goguard/pkg/distance"
	"github.com/hed1ad/goguard/pkg/matrix"
)

var nan = math.NaN()

func TestFitTransformNearestSharedColumn(t *testing.T) {
	data := [][]float64{
		{1, nan},
		{1, 2},
		{100, 200},
	}

	im := New(WithNeighbors(1), WithMetric(distance.Euclidean), WithAggregation(Mean))
	out, err := im.FitTransform(data)
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{1, 2}, {1, 2}, {100, 200}}, out)
	assert.True(t, math.IsNaN(data[0][1]), "input must not be modified")
}

func TestFitTransformFullyMissingColumn(t *testing.T) {
	data := [][]float64{
		{1, nan},
		{2, nan},
		{3, nan},
	}

	out, err := New(WithNeighbors(1)).FitTransform(data)
	assert.ErrorIs(t, err, matrix.ErrData)
	assert.Nil(t, out)
}

func TestFitTransformValidation(t *testing.T) {
	data := [][]float64{{1, nan}, {1, 2}}

	tests := []struct {
		name    string
		im      *Imputer
		data    [][]float64
		wantErr error
	}{
		{name: "zero neighbors", im: New(WithNeighbors(0)), data: data, wantErr: matrix.ErrInvalidConfiguration},
		{name: "unknown aggregation", im: New(WithAggregation("max")), data: data, wantErr: matrix.ErrUnsupportedAggregation},
		{name: "unknown metric", im: New(WithMetric("hamming")), data: data, wantErr: matrix.ErrUnsupportedMetric},
		{name: "empty", im: New(), data: [][]float64{}, wantErr: matrix.ErrData},
		{name: "ragged", im: New(), data: [][]float64{{1, 2}, {nan}}, wantErr: matrix.ErrData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.im.FitTransform(tt.data)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, out)
		})
	}
}

func TestFitTransformPreservesObserved(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data := randomMatrix(rng, 60, 5, 0.2)

	for _, agg := range []Aggregation{Mean, Median} {
		out, err := New(WithNeighbors(3), WithAggregation(agg)).FitTransform(data)
		require.NoError(t, err)

		require.Len(t, out, len(data))
		for i := range data {
			for j := range data[i] {
				if matrix.IsMissing(data[i][j]) {
					assert.False(t, matrix.IsMissing(out[i][j]))
					continue
				}
				assert.Equal(t, data[i][j], out[i][j])
			}
		}
	}
}

func TestImputedWithinNeighborRange(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	data := randomMatrix(rng, 40, 4, 0.25)

	for _, agg := range []Aggregation{Mean, Median} {
		im := New(WithNeighbors(4), WithAggregation(agg), WithSnapshot(true))
		out, err := im.FitTransform(data)
		require.NoError(t, err)

		for i := range data {
			for j := range data[i] {
				if !matrix.IsMissing(data[i][j]) {
					continue
				}
				rows, err := im.Neighbors(data, i, j)
				require.NoError(t, err)
				require.NotEmpty(t, rows)

				lo, hi := math.Inf(1), math.Inf(-1)
				for _, r := range rows {
					lo = math.Min(lo, data[r][j])
					hi = math.Max(hi, data[r][j])
				}
				assert.GreaterOrEqual(t, out[i][j], lo)
				assert.LessOrEqual(t, out[i][j], hi)
			}
		}
	}
}

func TestSequentialPropagation(t *testing.T) {
	data := [][]float64{
		{nan, 0},
		{nan, 0},
		{100, 50},
		{200, 60},
	}

	seq, err := New(WithNeighbors(2)).FitTransform(data)
	require.NoError(t, err)
	// row 1 borrows the value just written into row 0
	assert.Equal(t, 150.0, seq[0][0])
	assert.Equal(t, 125.0, seq[1][0])

	snap, err := New(WithNeighbors(2), WithSnapshot(true), WithWorkers(3)).FitTransform(data)
	require.NoError(t, err)
	assert.Equal(t, 150.0, snap[0][0])
	assert.Equal(t, 150.0, snap[1][0])
}

func TestTiesBrokenByRowIndex(t *testing.T) {
	data := [][]float64{
		{0, nan},
		{1, 10},
		{-1, 20},
	}

	out, err := New(WithNeighbors(1)).FitTransform(data)
	require.NoError(t, err)
	assert.Equal(t, 10.0, out[0][1])
}

func TestNoSharedColumns(t *testing.T) {
	data := [][]float64{
		{nan, 5},
		{3, nan},
	}

	out, err := New(WithNeighbors(1)).FitTransform(data)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{3, 5}, {3, 5}}, out)
}

func TestNeighborCountBroadensAverage(t *testing.T) {
	data := [][]float64{
		{0, nan},
		{1, 10},
		{2, 20},
		{3, 30},
		{4, 40},
	}

	tests := []struct {
		neighbors int
		want      float64
	}{
		{neighbors: 1, want: 10},
		{neighbors: 2, want: 15},
		{neighbors: 4, want: 25},
		{neighbors: 10, want: 25},
	}

	for _, tt := range tests {
		out, err := New(WithNeighbors(tt.neighbors)).FitTransform(data)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, out[0][1], 1e-12, "neighbors=%d", tt.neighbors)
	}
}

func TestModeAggregation(t *testing.T) {
	data := [][]float64{
		{0, nan},
		{0, 1},
		{0, 1},
		{0, 2},
	}

	out, err := New(WithNeighbors(3), WithAggregation(Mode)).FitTransform(data)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out[0][1])

	data[1][1] = 1.5
	_, err = New(WithNeighbors(3), WithAggregation(Mode)).FitTransform(data)
	assert.ErrorIs(t, err, matrix.ErrData)
}

func TestAggregationApply(t *testing.T) {
	tests := []struct {
		name    string
		agg     Aggregation
		values  []float64
		want    float64
		wantErr bool
	}{
		{name: "mean", agg: Mean, values: []float64{1, 2, 6}, want: 3},
		{name: "mean skips missing", agg: Mean, values: []float64{1, nan, 3}, want: 2},
		{name: "median odd", agg: Median, values: []float64{5, 1, 3}, want: 3},
		{name: "median even", agg: Median, values: []float64{4, 1, 3, 2}, want: 2.5},
		{name: "median all missing", agg: Median, values: []float64{nan}, wantErr: true},
		{name: "mode tie picks smallest", agg: Mode, values: []float64{3, 1, 3, 1}, want: 1},
		{name: "mode negative", agg: Mode, values: []float64{-1, 2}, wantErr: true},
		{name: "unknown", agg: "max", values: []float64{1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.agg.Apply(tt.values)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestParseAggregation(t *testing.T) {
	a, err := ParseAggregation(" Median")
	require.NoError(t, err)
	assert.Equal(t, Median, a)

	_, err = ParseAggregation("geometric")
	assert.ErrorIs(t, err, matrix.ErrUnsupportedAggregation)
}

func TestManhattanMetric(t *testing.T) {
	// Euclidean prefers row 1 (sqrt(8) < 3), Manhattan prefers row 2 (3 < 4).
	data := [][]float64{
		{0, 0, nan},
		{2, 2, 1},
		{3, 0, 2},
	}

	eu, err := New(WithNeighbors(1), WithMetric(distance.Euclidean)).FitTransform(data)
	require.NoError(t, err)
	assert.Equal(t, 1.0, eu[0][2])

	mh, err := New(WithNeighbors(1), WithMetric(distance.Manhattan)).FitTransform(data)
	require.NoError(t, err)
	assert.Equal(t, 2.0, mh[0][2])
}

func BenchmarkFitTransform(b *testing.B) {
	data := randomMatrix(rand.New(rand.NewSource(1)), 500, 10, 0.05)
	im := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		im.FitTransform(data)
	}
}

// randomMatrix returns a rows x cols matrix with roughly share of its cells
// missing. Row 0 is kept complete so no column is entirely missing.
func randomMatrix(rng *rand.Rand, rows, cols int, share float64) [][]float64 {
	data := make([][]float64, rows)
	for i := range data {
		data[i] = make([]float64, cols)
		for j := range data[i] {
			if i > 0 && rng.Float64() < share {
				data[i][j] = nan
				continue
			}
			data[i][j] = rng.NormFloat64() * 10
		}
	}
	return data
}
