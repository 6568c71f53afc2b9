package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/goguard/pkg/matrix"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "goguard.db")
	s, err := Open(context.Background(), DriverSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoadDataset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	nan := math.NaN()

	rows := [][]float64{
		{1, 2, nan},
		{4, 5, 6},
	}
	id, err := s.SaveDataset(ctx, "raw", []string{"a", "b", "c"}, rows)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	ds, err := s.LoadDataset(ctx, "raw")
	require.NoError(t, err)
	assert.Equal(t, id, ds.ID)
	assert.Equal(t, []string{"a", "b", "c"}, ds.Columns)
	assert.Equal(t, 2, ds.RowCount)
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, []float64{1, 2}, ds.Rows[0][:2])
	assert.True(t, matrix.IsMissing(ds.Rows[0][2]))
	assert.Equal(t, []float64{4, 5, 6}, ds.Rows[1])
}

func TestSaveDatasetReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.SaveDataset(ctx, "features", []string{"x"}, [][]float64{{1}, {2}, {3}})
	require.NoError(t, err)
	id2, err := s.SaveDataset(ctx, "features", []string{"y"}, [][]float64{{9}})
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "id is stable across replacements")

	ds, err := s.LoadDataset(ctx, "features")
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, ds.Columns)
	assert.Equal(t, [][]float64{{9}}, ds.Rows)
}

func TestSaveDatasetValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SaveDataset(ctx, "", nil, [][]float64{{1}})
	assert.ErrorIs(t, err, matrix.ErrData)

	_, err = s.SaveDataset(ctx, "ragged", nil, [][]float64{{1, 2}, {3}})
	assert.ErrorIs(t, err, matrix.ErrData)

	_, err = s.SaveDataset(ctx, "names", []string{"a"}, [][]float64{{1, 2}})
	assert.ErrorIs(t, err, matrix.ErrData)
}

func TestLoadMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LoadDataset(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.LoadRun(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteDataset(ctx, "nope"), ErrNotFound)
}

func TestListDatasets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	clock := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return clock }

	_, err := s.SaveDataset(ctx, "older", nil, [][]float64{{1}})
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	_, err = s.SaveDataset(ctx, "newer", nil, [][]float64{{1}, {2}})
	require.NoError(t, err)

	list, err := s.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].Name)
	assert.Equal(t, 2, list[0].RowCount)
	assert.Equal(t, "older", list[1].Name)
}

func TestRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	dsID, err := s.SaveDataset(ctx, "clustered", []string{"x", "y"}, [][]float64{{0, 0}, {10, 10}})
	require.NoError(t, err)

	run := &Run{
		DatasetID:  dsID,
		K:          2,
		Iterations: 3,
		Converged:  true,
		Inertia:    0,
		Centroids:  [][]float64{{0, 0}, {10, 10}},
		Labels:     []int{0, 1},
	}
	require.NoError(t, s.SaveRun(ctx, run))
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.CreatedAt.IsZero())

	got, err := s.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.K, got.K)
	assert.Equal(t, run.Iterations, got.Iterations)
	assert.True(t, got.Converged)
	assert.Equal(t, run.Centroids, got.Centroids)
	assert.Equal(t, run.Labels, got.Labels)
	assert.Equal(t, run.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())

	runs, err := s.ListRuns(ctx, dsID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	// deleting the dataset cascades to its runs
	require.NoError(t, s.DeleteDataset(ctx, "clustered"))
	runs, err = s.ListRuns(ctx, dsID)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunRequiresDataset(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveRun(context.Background(), &Run{DatasetID: "missing", K: 1, Centroids: [][]float64{{0}}, Labels: []int{0}})
	assert.Error(t, err)
}
