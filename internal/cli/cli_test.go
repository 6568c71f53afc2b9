package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/goguard/pkg/io/csv"
	"github.com/hed1ad/goguard/pkg/matrix"
	"github.com/hed1ad/goguard/pkg/store"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd, a := newRootCommand(strings.NewReader(""), &out, &errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))

	err = cmd.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// connections returns a CSV with two groups of traffic, one connection
// between them and optionally a few gaps.
func connections(withGaps bool) string {
	var b strings.Builder
	b.WriteString("id,duration,bytes,protocol,label\n")
	row := 0
	add := func(duration, bytes, protocol, label string) {
		fmt.Fprintf(&b, "%d,%s,%s,%s,%s\n", row, duration, bytes, protocol, label)
		row++
	}
	for i := 0; i < 10; i++ {
		add(fmt.Sprint(1+i%3), fmt.Sprint(100+i), "tcp", "normal")
	}
	for i := 0; i < 10; i++ {
		add(fmt.Sprint(20+i%3), fmt.Sprint(900+i), "udp", "normal")
	}
	if withGaps {
		add("2", "?", "tcp", "normal")
		add("NA", "905", "", "normal")
	}
	add("10", "500", "tcp", "smurf")
	return b.String()
}

// flows is connections without gaps and without the id and label columns.
func flows() string {
	var b strings.Builder
	b.WriteString("duration,bytes,protocol\n")
	for _, line := range strings.Split(strings.TrimSpace(connections(false)), "\n")[1:] {
		cells := strings.Split(line, ",")
		b.WriteString(strings.Join(cells[1:4], ",") + "\n")
	}
	return b.String()
}

func readCSV(t *testing.T, path string) ([]string, [][]string) {
	t.Helper()
	r, err := csv.NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	tbl, err := r.ReadTable()
	require.NoError(t, err)
	return tbl.Columns, tbl.Rows
}

func TestImpute(t *testing.T) {
	in := writeFile(t, "in.csv", connections(true))
	out := filepath.Join(t.TempDir(), "out.csv")

	_, stderr, err := execute(t, "impute", "-i", in, "-o", out, "--neighbors", "3")
	require.NoError(t, err)
	assert.Contains(t, stderr, "missing before imputation")
	assert.Contains(t, stderr, "missing after imputation: no columns with missing values")

	cols, rows := readCSV(t, out)
	assert.Equal(t, []string{"id", "duration", "bytes", "protocol", "label"}, cols)
	require.Len(t, rows, 23)
	for _, row := range rows {
		for _, cell := range row {
			assert.NotEmpty(t, cell)
		}
	}
	// the udp row with a missing protocol sits among udp rows
	assert.Equal(t, "udp", rows[21][3])
}

func TestImputeConfigErrors(t *testing.T) {
	in := writeFile(t, "in.csv", connections(true))

	_, _, err := execute(t, "impute", "-i", in, "--neighbors", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "impute.neighbors")

	_, _, err = execute(t, "impute", "-i", in, "--aggregation", "max")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "impute.aggregation")

	_, _, err = execute(t, "impute")
	assert.Error(t, err, "input is required")
}

func TestClusterRejectsGaps(t *testing.T) {
	in := writeFile(t, "in.csv", connections(true))

	_, _, err := execute(t, "cluster", "-i", in, "--k", "2")
	assert.ErrorIs(t, err, matrix.ErrData)
}

func TestCluster(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, "in.csv", connections(false))
	out := filepath.Join(dir, "labels.csv")
	centroids := filepath.Join(dir, "centroids.csv")
	db := filepath.Join(dir, "goguard.db")

	_, stderr, err := execute(t, "cluster", "-i", in, "-o", out,
		"--k", "2", "--centroids", centroids,
		"--dataset", "flows", "--store-driver", "sqlite", "--store-dsn", db)
	require.NoError(t, err)
	assert.Contains(t, stderr, "k=2")
	assert.Contains(t, stderr, "silhouette=")

	cols, rows := readCSV(t, out)
	assert.Equal(t, []string{"row", "cluster", "score", "is_anomaly"}, cols)
	assert.Len(t, rows, 21)

	cols, rows = readCSV(t, centroids)
	assert.Equal(t, []string{"id", "duration", "bytes", "protocol", "label"}, cols)
	assert.Len(t, rows, 2)

	ctx := context.Background()
	s, err := store.Open(ctx, store.DriverSQLite, db)
	require.NoError(t, err)
	defer s.Close()

	ds, err := s.LoadDataset(ctx, "flows")
	require.NoError(t, err)
	assert.Len(t, ds.Rows, 21)

	runs, err := s.ListRuns(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].K)
}

func TestClusterStoreNeedsDriver(t *testing.T) {
	in := writeFile(t, "in.csv", connections(false))

	_, _, err := execute(t, "cluster", "-i", in, "--k", "2", "-o", filepath.Join(t.TempDir(), "out.csv"), "--dataset", "flows")
	assert.ErrorIs(t, err, matrix.ErrInvalidConfiguration)
}

func TestDetectSaveAndReuse(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, "in.csv", flows())
	model := filepath.Join(dir, "model.gob")
	first := filepath.Join(dir, "first.csv")
	second := filepath.Join(dir, "second.csv")

	_, stderr, err := execute(t, "detect", "-i", in, "-o", first, "--k", "2", "--contamination", "0.05", "--save-model", model)
	require.NoError(t, err)
	assert.Contains(t, stderr, "anomalies=")

	_, rows := readCSV(t, first)
	require.Len(t, rows, 21)
	assert.Equal(t, "true", rows[20][3], "the in-between connection is flagged")

	_, _, err = execute(t, "detect", "-i", in, "-o", second, "--model", model)
	require.NoError(t, err)

	raw1, err := os.ReadFile(first)
	require.NoError(t, err)
	raw2, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, string(raw1), string(raw2), "a reloaded model scores identically")
}

func TestDetectModelColumnMismatch(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, "in.csv", flows())
	other := writeFile(t, "other.csv", "a,b\n1,2\n3,4\n5,6\n7,8\n9,10\n11,12\n")
	model := filepath.Join(dir, "model.gob")

	_, _, err := execute(t, "detect", "-i", in, "-o", filepath.Join(dir, "out.csv"), "--k", "2", "--save-model", model)
	require.NoError(t, err)

	_, _, err = execute(t, "detect", "-i", other, "-o", filepath.Join(dir, "out2.csv"), "--model", model)
	assert.ErrorIs(t, err, matrix.ErrData)
}

func TestPipeline(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, "in.csv", connections(true))
	imputed := filepath.Join(dir, "imputed.csv")
	metricsFile := filepath.Join(dir, "goguard.prom")

	stdout, _, err := execute(t, "pipeline", "-i", in,
		"--k", "2", "--neighbors", "3", "--contamination", "0.05",
		"--imputed", imputed, "--metrics-file", metricsFile)
	require.NoError(t, err)

	var summary pipelineSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, 23, summary.Rows)
	assert.Equal(t, []string{"duration", "bytes", "protocol"}, summary.Columns)
	assert.Equal(t, 3, summary.CellsImputed)
	assert.Empty(t, summary.MissingAfter)
	assert.Equal(t, 2, summary.K)
	assert.NotNil(t, summary.Silhouette)
	require.NotNil(t, summary.Classification)
	assert.Equal(t, 1, summary.Classification.TruePositives)

	cols, rows := readCSV(t, imputed)
	assert.Equal(t, []string{"duration", "bytes", "protocol"}, cols)
	assert.Len(t, rows, 23)

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "goguard_cells_imputed_total 3")
	assert.Contains(t, string(prom), `goguard_stage_duration_seconds_count{stage="cluster"} 1`)
}

func TestPipelineConfigFile(t *testing.T) {
	in := writeFile(t, "in.csv", connections(true))
	cfg := writeFile(t, "goguard.yaml", `
kmeans:
  k: 3
impute:
  neighbors: 2
preprocess:
  label_column: ""
`)

	stdout, _, err := execute(t, "pipeline", "-i", in, "--config", cfg)
	require.NoError(t, err)

	var summary pipelineSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, 3, summary.K)
	assert.Nil(t, summary.Classification)
	assert.Contains(t, summary.Columns, "label")

	// flags override the file
	stdout, _, err = execute(t, "pipeline", "-i", in, "--config", cfg, "--k", "2")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, 2, summary.K)
}
