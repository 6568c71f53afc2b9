package csv

import (
	"encoding/csv"
	"io"
	"strconv"

	gio "github.com/hed1ad/goguard/pkg/io"
	"github.com/hed1ad/goguard/pkg/matrix"
	"github.com/hed1ad/goguard/pkg/preprocess"
)

// Writer writes tables, matrices and detection results as CSV.
type Writer struct {
	w            *csv.Writer
	closer       io.Closer
	wroteResults bool
}

var (
	_ gio.Writer      = (*Writer)(nil)
	_ gio.TableWriter = (*Writer)(nil)
)

// NewWriter writes to w. When w is an io.Closer, Close closes it.
func NewWriter(w io.Writer) *Writer {
	cw := &Writer{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	return cw
}

// WriteTable writes t with its header row.
func (cw *Writer) WriteTable(t preprocess.Table) error {
	if err := cw.w.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.w.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.w.Error()
}

// WriteMatrix writes data under headers; missing cells are left empty.
// headers may be nil.
func (cw *Writer) WriteMatrix(headers []string, data [][]float64) error {
	if headers != nil {
		if err := cw.w.Write(headers); err != nil {
			return err
		}
	}
	for _, row := range data {
		if err := cw.w.Write(formatRow(row)); err != nil {
			return err
		}
	}
	cw.w.Flush()
	return cw.w.Error()
}

// Write outputs a single result. The first call writes a header row.
func (cw *Writer) Write(result gio.Result) error {
	if !cw.wroteResults {
		if err := cw.w.Write([]string{"row", "cluster", "score", "is_anomaly"}); err != nil {
			return err
		}
		cw.wroteResults = true
	}
	return cw.w.Write([]string{
		strconv.Itoa(result.Row),
		strconv.Itoa(result.Cluster),
		strconv.FormatFloat(result.Score, 'g', -1, 64),
		strconv.FormatBool(result.IsAnomaly),
	})
}

// WriteAll outputs multiple results.
func (cw *Writer) WriteAll(results []gio.Result) error {
	for _, r := range results {
		if err := cw.Write(r); err != nil {
			return err
		}
	}
	cw.w.Flush()
	return cw.w.Error()
}

// Close flushes buffered output and closes the underlying writer.
func (cw *Writer) Close() error {
	cw.w.Flush()
	if err := cw.w.Error(); err != nil {
		return err
	}
	if cw.closer != nil {
		return cw.closer.Close()
	}
	return nil
}

func formatRow(row []float64) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if matrix.IsMissing(v) {
			continue
		}
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out
}
