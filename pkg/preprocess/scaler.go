package preprocess

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/goguard/pkg/matrix"
)

// StandardScaler centres every column on zero mean and unit population
// standard deviation. Missing cells are ignored while fitting and stay
// missing when transformed.
type StandardScaler struct {
	Mean []float64
	Std  []float64
}

// Fit learns per-column mean and standard deviation. A constant column
// gets a standard deviation of 1 so it maps to zeros.
func (s *StandardScaler) Fit(data [][]float64) error {
	cols, err := matrix.Validate(data)
	if err != nil {
		return err
	}

	s.Mean = make([]float64, cols)
	s.Std = make([]float64, cols)
	for j := 0; j < cols; j++ {
		col := make([]float64, 0, len(data))
		for _, row := range data {
			if !matrix.IsMissing(row[j]) {
				col = append(col, row[j])
			}
		}
		if len(col) == 0 {
			return fmt.Errorf("%w: column %d has no observed values", matrix.ErrData, j)
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		std := math.Sqrt(variance)
		if std == 0 {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}
	return nil
}

// Transform returns a scaled copy of data.
func (s *StandardScaler) Transform(data [][]float64) ([][]float64, error) {
	return s.apply(data, func(v, mean, std float64) float64 { return (v - mean) / std })
}

// InverseTransform undoes Transform.
func (s *StandardScaler) InverseTransform(data [][]float64) ([][]float64, error) {
	return s.apply(data, func(v, mean, std float64) float64 { return v*std + mean })
}

// FitTransform is Fit followed by Transform.
func (s *StandardScaler) FitTransform(data [][]float64) ([][]float64, error) {
	if err := s.Fit(data); err != nil {
		return nil, err
	}
	return s.Transform(data)
}

func (s *StandardScaler) apply(data [][]float64, fn func(v, mean, std float64) float64) ([][]float64, error) {
	if s.Mean == nil {
		return nil, matrix.ErrNotFitted
	}
	cols, err := matrix.Validate(data)
	if err != nil {
		return nil, err
	}
	if cols != len(s.Mean) {
		return nil, fmt.Errorf("%w: got %d columns, scaler has %d", matrix.ErrData, cols, len(s.Mean))
	}

	out := matrix.Clone(data)
	for _, row := range out {
		for j, v := range row {
			if matrix.IsMissing(v) {
				continue
			}
			row[j] = fn(v, s.Mean[j], s.Std[j])
		}
	}
	return out, nil
}

// SplitColumn removes column name from t and returns it separately. ok is
// false when t has no such column, in which case t is returned unchanged.
func SplitColumn(t Table, name string) (rest Table, column []string, ok bool) {
	idx := -1
	for j, c := range t.Columns {
		if c == name {
			idx = j
			break
		}
	}
	if idx < 0 {
		return t, nil, false
	}

	rest.Columns = append(append([]string{}, t.Columns[:idx]...), t.Columns[idx+1:]...)
	rest.Rows = make([][]string, len(t.Rows))
	column = make([]string, len(t.Rows))
	for i, row := range t.Rows {
		column[i] = row[idx]
		rest.Rows[i] = append(append([]string{}, row[:idx]...), row[idx+1:]...)
	}
	return rest, column, true
}
