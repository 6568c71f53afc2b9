package matrix

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		data     [][]float64
		wantCols int
		wantErr  bool
	}{
		{name: "empty", data: [][]float64{}, wantErr: true},
		{name: "zero width", data: [][]float64{{}}, wantErr: true},
		{name: "ragged", data: [][]float64{{1, 2}, {3}}, wantErr: true},
		{name: "missing allowed", data: [][]float64{{1, math.NaN()}, {3, 4}}, wantCols: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols, err := Validate(tt.data)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrData)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCols, cols)
		})
	}
}

func TestValidateComplete(t *testing.T) {
	_, err := ValidateComplete([][]float64{{1, 2}, {math.NaN(), 4}})
	assert.ErrorIs(t, err, ErrData)

	_, err = ValidateComplete([][]float64{{1, math.Inf(1)}})
	assert.ErrorIs(t, err, ErrData)

	cols, err := ValidateComplete([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, 2, cols)
}

func TestClone(t *testing.T) {
	data := [][]float64{{1, 2}, {3, 4}}
	cp := Clone(data)
	cp[0][0] = 99
	assert.Equal(t, 1.0, data[0][0])
}

func TestFullyMissingColumns(t *testing.T) {
	nan := Missing()
	data := [][]float64{
		{1, nan, nan},
		{2, nan, 3},
	}
	assert.Equal(t, []int{1}, FullyMissingColumns(data))
	assert.Equal(t, 3, CountMissing(data))
}

func TestMissingSummary(t *testing.T) {
	nan := Missing()
	data := [][]float64{
		{1, nan, 5},
		{2, nan, nan},
		{3, 4, 6},
		{4, 4, 6},
	}

	summary := MissingSummary(data, []string{"a", "b", "c"}, 0)
	require.Len(t, summary, 2)
	assert.Equal(t, ColumnMissing{Column: 1, Name: "b", Missing: 2, Percent: 50}, summary[0])
	assert.Equal(t, ColumnMissing{Column: 2, Name: "c", Missing: 1, Percent: 25}, summary[1])

	// threshold filters columns at or below it
	summary = MissingSummary(data, nil, 25)
	require.Len(t, summary, 1)
	assert.Equal(t, 1, summary[0].Column)
	assert.Empty(t, summary[0].Name)
}
