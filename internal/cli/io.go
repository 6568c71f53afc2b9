package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/hed1ad/goguard/pkg/io/csv"
	"github.com/hed1ad/goguard/pkg/matrix"
	"github.com/hed1ad/goguard/pkg/preprocess"
)

func readTable(path string) (preprocess.Table, error) {
	r, err := csv.NewReader(path)
	if err != nil {
		return preprocess.Table{}, err
	}
	defer r.Close()

	t, err := r.ReadTable()
	if err != nil {
		return preprocess.Table{}, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// openOutput returns a CSV writer on path, or on stdout when path is empty
// or "-".
func (a *app) openOutput(path string) (*csv.Writer, error) {
	if path == "" || path == "-" {
		return csv.NewWriter(nopCloser{a.stdout}), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return csv.NewWriter(f), nil
}

// printMissing writes a missing-value report to stderr.
func (a *app) printMissing(title string, report []matrix.ColumnMissing) {
	if len(report) == 0 {
		fmt.Fprintf(a.stderr, "%s: no columns with missing values\n", title)
		return
	}
	fmt.Fprintf(a.stderr, "%s:\n", title)
	tw := tabwriter.NewWriter(a.stderr, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  COLUMN\tMISSING\tPERCENT")
	for _, m := range report {
		fmt.Fprintf(tw, "  %s\t%d\t%.2f%%\n", m.Name, m.Missing, m.Percent)
	}
	tw.Flush()
}
