// Package csv provides CSV reading and writing for tabular flow data.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	gio "github.com/hed1ad/goguard/pkg/io"
	"github.com/hed1ad/goguard/pkg/matrix"
	"github.com/hed1ad/goguard/pkg/preprocess"
)

// Reader reads data from CSV files.
type Reader struct {
	file      *os.File
	reader    *csv.Reader
	hasHeader bool
	headers   []string
	missing   map[string]struct{}
}

var (
	_ gio.Reader      = (*Reader)(nil)
	_ gio.TableReader = (*Reader)(nil)
)

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithComma sets the field delimiter.
func WithComma(c rune) Option {
	return func(r *Reader) {
		r.reader.Comma = c
	}
}

// WithMissingTokens sets the cell values read as missing. Matching is
// case-insensitive.
func WithMissingTokens(tokens ...string) Option {
	return func(r *Reader) {
		r.missing = make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			r.missing[strings.ToLower(strings.TrimSpace(tok))] = struct{}{}
		}
	}
}

// NewReader creates a new CSV reader.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		file:      file,
		reader:    csv.NewReader(file),
		hasHeader: true,
	}
	WithMissingTokens(preprocess.DefaultMissingTokens...)(r)

	for _, opt := range opts {
		opt(r)
	}

	// Read header if present
	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("read header of %s: %w", filename, err)
		}
		for i := range headers {
			headers[i] = strings.TrimSpace(headers[i])
		}
		r.headers = headers
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// Read returns all data as a 2D float slice. Missing tokens and cells that
// do not parse as numbers become NaN.
func (r *Reader) Read() ([][]float64, error) {
	var data [][]float64

	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		row, err := r.parseRow(record)
		if err != nil {
			continue // Skip empty rows
		}
		data = append(data, row)
	}

	return data, nil
}

// ReadTable returns the remaining rows as raw string cells, for input that
// still has categorical columns.
func (r *Reader) ReadTable() (preprocess.Table, error) {
	records, err := r.reader.ReadAll()
	if err != nil {
		return preprocess.Table{}, err
	}

	t := preprocess.Table{Columns: r.headers, Rows: records}
	if t.Columns == nil && len(records) > 0 {
		t.Columns = make([]string, len(records[0]))
		for j := range t.Columns {
			t.Columns[j] = "c" + strconv.Itoa(j)
		}
	}
	return t, nil
}

// Stream returns a channel of rows for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	out := make(chan []float64, 100)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				record, err := r.reader.Read()
				if err == io.EOF {
					return
				}
				if err != nil {
					continue
				}

				row, err := r.parseRow(record)
				if err != nil {
					continue
				}

				select {
				case out <- row:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// parseRow converts a record to floats, mapping missing cells to NaN.
func (r *Reader) parseRow(record []string) ([]float64, error) {
	if len(record) == 0 {
		return nil, errors.New("empty row")
	}

	row := make([]float64, len(record))
	for i, val := range record {
		val = strings.TrimSpace(val)
		if _, ok := r.missing[strings.ToLower(val)]; ok {
			row[i] = matrix.Missing()
			continue
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			row[i] = matrix.Missing()
			continue
		}
		row[i] = f
	}
	return row, nil
}
