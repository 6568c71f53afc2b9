// Package preprocess turns raw tabular records into numeric feature
// matrices and back: categorical encoding, missing-token handling and
// standard scaling.
package preprocess

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hed1ad/goguard/pkg/matrix"
)

// Table is a raw table of string cells with named columns.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ColumnKind tells how a raw column is encoded.
type ColumnKind int

const (
	// Numeric columns are parsed as floats.
	Numeric ColumnKind = iota
	// Label columns map each category to its index in sorted order.
	Label
	// OneHot columns expand into one 0/1 column per category, the first
	// category being dropped.
	OneHot
)

func (k ColumnKind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Label:
		return "label"
	case OneHot:
		return "onehot"
	}
	return "unknown"
}

// ColumnEncoding describes how one raw column maps onto output columns.
type ColumnEncoding struct {
	Name       string
	Kind       ColumnKind
	Categories []string
	Outputs    []string
}

// DefaultMissingTokens are raw cell values read as missing.
var DefaultMissingTokens = []string{"", "na", "nan", "null", "none", "?", "-"}

// Encoder learns per-column encodings from a table.
type Encoder struct {
	maxLabelCategories int
	missing            map[string]struct{}

	encodings []ColumnEncoding
	fitted    bool
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithMaxLabelCategories sets the largest category count that still gets
// label encoding; columns with more categories are one-hot encoded.
func WithMaxLabelCategories(n int) EncoderOption {
	return func(e *Encoder) {
		e.maxLabelCategories = n
	}
}

// WithMissingTokens replaces the set of raw values treated as missing.
// Matching is case-insensitive and ignores surrounding space.
func WithMissingTokens(tokens ...string) EncoderOption {
	return func(e *Encoder) {
		e.missing = make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			e.missing[strings.ToLower(strings.TrimSpace(tok))] = struct{}{}
		}
	}
}

// NewEncoder creates an Encoder.
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{maxLabelCategories: 10}
	WithMissingTokens(DefaultMissingTokens...)(e)

	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Encoder) isMissing(cell string) bool {
	_, ok := e.missing[strings.ToLower(strings.TrimSpace(cell))]
	return ok
}

// Fit decides the encoding of every column of t.
func (e *Encoder) Fit(t Table) error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("%w: table has no columns", matrix.ErrData)
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%w: row %d has %d cells, want %d", matrix.ErrData, i, len(row), len(t.Columns))
		}
	}

	encodings := make([]ColumnEncoding, len(t.Columns))
	for j, name := range t.Columns {
		numeric := true
		seen := make(map[string]struct{})
		for _, row := range t.Rows {
			cell := strings.TrimSpace(row[j])
			if e.isMissing(cell) {
				continue
			}
			seen[cell] = struct{}{}
			if numeric {
				if _, err := strconv.ParseFloat(cell, 64); err != nil {
					numeric = false
				}
			}
		}

		enc := ColumnEncoding{Name: name}
		switch {
		case numeric:
			enc.Kind = Numeric
			enc.Outputs = []string{name}
		default:
			cats := make([]string, 0, len(seen))
			for c := range seen {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			enc.Categories = cats

			if len(cats) <= e.maxLabelCategories {
				enc.Kind = Label
				enc.Outputs = []string{name}
			} else {
				enc.Kind = OneHot
				for _, c := range cats[1:] {
					enc.Outputs = append(enc.Outputs, name+"_"+c)
				}
			}
		}
		encodings[j] = enc
	}

	e.encodings = encodings
	e.fitted = true
	return nil
}

// Encodings returns the learned column encodings.
func (e *Encoder) Encodings() []ColumnEncoding {
	return e.encodings
}

// Columns returns the names of the encoded output columns.
func (e *Encoder) Columns() []string {
	var out []string
	for _, enc := range e.encodings {
		out = append(out, enc.Outputs...)
	}
	return out
}

// Transform encodes t with the learned encodings. Missing cells and
// categories unseen during Fit become the missing sentinel.
func (e *Encoder) Transform(t Table) ([][]float64, error) {
	if !e.fitted {
		return nil, matrix.ErrNotFitted
	}
	if len(t.Columns) != len(e.encodings) {
		return nil, fmt.Errorf("%w: table has %d columns, encoder has %d", matrix.ErrData, len(t.Columns), len(e.encodings))
	}

	width := len(e.Columns())
	out := make([][]float64, len(t.Rows))
	for i, row := range t.Rows {
		if len(row) != len(e.encodings) {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", matrix.ErrData, i, len(row), len(e.encodings))
		}
		enc := make([]float64, 0, width)
		for j, cell := range row {
			enc = e.encodeCell(enc, e.encodings[j], strings.TrimSpace(cell))
		}
		out[i] = enc
	}
	return out, nil
}

func (e *Encoder) encodeCell(dst []float64, enc ColumnEncoding, cell string) []float64 {
	missing := e.isMissing(cell)

	switch enc.Kind {
	case Numeric:
		if missing {
			return append(dst, matrix.Missing())
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return append(dst, matrix.Missing())
		}
		return append(dst, v)

	case Label:
		idx := sort.SearchStrings(enc.Categories, cell)
		if missing || idx == len(enc.Categories) || enc.Categories[idx] != cell {
			return append(dst, matrix.Missing())
		}
		return append(dst, float64(idx))

	default:
		idx := sort.SearchStrings(enc.Categories, cell)
		known := !missing && idx < len(enc.Categories) && enc.Categories[idx] == cell
		for c := 1; c < len(enc.Categories); c++ {
			switch {
			case !known:
				dst = append(dst, matrix.Missing())
			case c == idx:
				dst = append(dst, 1)
			default:
				dst = append(dst, 0)
			}
		}
		return dst
	}
}

// FitTransform is Fit followed by Transform.
func (e *Encoder) FitTransform(t Table) ([][]float64, error) {
	if err := e.Fit(t); err != nil {
		return nil, err
	}
	return e.Transform(t)
}

// Decode maps an encoded matrix back to raw cells. Label codes are rounded
// to the nearest category, which makes imputed codes decodable; one-hot
// groups take the category with the largest value, and an all-zero group
// decodes to the dropped first category. Missing values decode to "".
func (e *Encoder) Decode(data [][]float64) (Table, error) {
	if !e.fitted {
		return Table{}, matrix.ErrNotFitted
	}
	width := len(e.Columns())

	t := Table{Rows: make([][]string, len(data))}
	for _, enc := range e.encodings {
		t.Columns = append(t.Columns, enc.Name)
	}

	for i, row := range data {
		if len(row) != width {
			return Table{}, fmt.Errorf("%w: row %d has %d values, want %d", matrix.ErrData, i, len(row), width)
		}
		cells := make([]string, 0, len(e.encodings))
		pos := 0
		for _, enc := range e.encodings {
			n := len(enc.Outputs)
			cells = append(cells, decodeCell(enc, row[pos:pos+n]))
			pos += n
		}
		t.Rows[i] = cells
	}
	return t, nil
}

func decodeCell(enc ColumnEncoding, values []float64) string {
	switch enc.Kind {
	case Numeric:
		if matrix.IsMissing(values[0]) {
			return ""
		}
		return strconv.FormatFloat(values[0], 'g', -1, 64)

	case Label:
		v := values[0]
		if matrix.IsMissing(v) || len(enc.Categories) == 0 {
			return ""
		}
		idx := int(math.Round(v))
		idx = max(0, min(idx, len(enc.Categories)-1))
		return enc.Categories[idx]

	default:
		best, bestVal := 0, 0.0
		for c, v := range values {
			if matrix.IsMissing(v) {
				return ""
			}
			if v > bestVal {
				best, bestVal = c+1, v
			}
		}
		return enc.Categories[best]
	}
}
