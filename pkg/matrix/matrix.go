// Package matrix provides the dense feature-matrix helpers shared by the
// clustering and imputation engines.
//
// A matrix is a plain [][]float64: rows are samples, columns are positional
// features. A cell is missing when it holds NaN; the mask is always derived
// from the values themselves and never stored on the side.
package matrix

import (
	"fmt"
	"math"
)

// Missing returns the sentinel used for missing cells.
func Missing() float64 {
	return math.NaN()
}

// IsMissing reports whether v is the missing sentinel.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// Shape returns the row and column counts of data. It does not validate
// that all rows have the same length.
func Shape(data [][]float64) (rows, cols int) {
	if len(data) == 0 {
		return 0, 0
	}
	return len(data), len(data[0])
}

// Validate checks that data is non-empty, has at least one column and that
// every row has the same length. It returns the column count.
func Validate(data [][]float64) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty matrix", ErrData)
	}
	cols := len(data[0])
	if cols == 0 {
		return 0, fmt.Errorf("%w: matrix has no columns", ErrData)
	}
	for i, row := range data {
		if len(row) != cols {
			return 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrData, i, len(row), cols)
		}
	}
	return cols, nil
}

// ValidateComplete is Validate plus a check that no cell is missing or
// infinite.
func ValidateComplete(data [][]float64) (int, error) {
	cols, err := Validate(data)
	if err != nil {
		return 0, err
	}
	for i, row := range data {
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, fmt.Errorf("%w: non-finite value at row %d column %d", ErrData, i, j)
			}
		}
	}
	return cols, nil
}

// Clone returns a deep copy of data.
func Clone(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, row := range data {
		out[i] = make([]float64, len(row))
		copy(out[i], row)
	}
	return out
}

// Column copies column j out of data.
func Column(data [][]float64, j int) []float64 {
	col := make([]float64, len(data))
	for i, row := range data {
		col[i] = row[j]
	}
	return col
}

// CountMissing returns the number of missing cells in data.
func CountMissing(data [][]float64) int {
	n := 0
	for _, row := range data {
		for _, v := range row {
			if IsMissing(v) {
				n++
			}
		}
	}
	return n
}

// FullyMissingColumns returns the indices of columns that are missing in
// every row.
func FullyMissingColumns(data [][]float64) []int {
	rows, cols := Shape(data)
	if rows == 0 {
		return nil
	}
	var out []int
	for j := 0; j < cols; j++ {
		all := true
		for i := 0; i < rows; i++ {
			if !IsMissing(data[i][j]) {
				all = false
				break
			}
		}
		if all {
			out = append(out, j)
		}
	}
	return out
}
