package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is a stored clustering result.
type Run struct {
	ID         string      `json:"id"`
	DatasetID  string      `json:"dataset_id"`
	K          int         `json:"k"`
	Iterations int         `json:"iterations"`
	Converged  bool        `json:"converged"`
	Inertia    float64     `json:"inertia"`
	Centroids  [][]float64 `json:"centroids"`
	Labels     []int       `json:"labels"`
	CreatedAt  time.Time   `json:"created_at"`
}

type runRecord struct {
	ID         string  `db:"id"`
	DatasetID  string  `db:"dataset_id"`
	K          int     `db:"k"`
	Iterations int     `db:"iterations"`
	Converged  int     `db:"converged"`
	Inertia    float64 `db:"inertia"`
	Centroids  string  `db:"centroids"`
	Labels     string  `db:"labels"`
	CreatedAt  int64   `db:"created_at"`
}

// SaveRun stores run, assigning an id and timestamp when they are unset.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}

	centroids, err := json.Marshal(run.Centroids)
	if err != nil {
		return fmt.Errorf("encode centroids: %w", err)
	}
	labels, err := json.Marshal(run.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	converged := 0
	if run.Converged {
		converged = 1
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO cluster_runs (id, dataset_id, k, iterations, converged, inertia, centroids, labels, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.DatasetID, run.K, run.Iterations, converged, run.Inertia,
		string(centroids), string(labels), run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// LoadRun returns the run with the given id.
func (s *Store) LoadRun(ctx context.Context, id string) (*Run, error) {
	var rec runRecord
	err := s.db.GetContext(ctx, &rec, s.db.Rebind(`SELECT * FROM cluster_runs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec.run()
}

// ListRuns returns the runs of a dataset, newest first.
func (s *Store) ListRuns(ctx context.Context, datasetID string) ([]*Run, error) {
	var recs []runRecord
	err := s.db.SelectContext(ctx, &recs, s.db.Rebind(`
		SELECT * FROM cluster_runs WHERE dataset_id = ? ORDER BY created_at DESC`), datasetID)
	if err != nil {
		return nil, err
	}

	out := make([]*Run, 0, len(recs))
	for _, rec := range recs {
		run, err := rec.run()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (r runRecord) run() (*Run, error) {
	run := &Run{
		ID:         r.ID,
		DatasetID:  r.DatasetID,
		K:          r.K,
		Iterations: r.Iterations,
		Converged:  r.Converged != 0,
		Inertia:    r.Inertia,
		CreatedAt:  time.UnixMilli(r.CreatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.Centroids), &run.Centroids); err != nil {
		return nil, fmt.Errorf("decode centroids of run %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Labels), &run.Labels); err != nil {
		return nil, fmt.Errorf("decode labels of run %s: %w", r.ID, err)
	}
	return run, nil
}
