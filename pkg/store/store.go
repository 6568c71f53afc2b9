// Package store persists raw and processed datasets and clustering runs in
// a relational database. PostgreSQL (lib/pq) and SQLite (modernc) are
// supported.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/hed1ad/goguard/pkg/matrix"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrNotFound is returned when a dataset or run does not exist.
var ErrNotFound = errors.New("store: not found")

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS datasets (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    columns     TEXT NOT NULL,
    row_count   INTEGER NOT NULL DEFAULT 0,
    created_at  BIGINT NOT NULL,
    updated_at  BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS dataset_rows (
    dataset_id  TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
    row_idx     INTEGER NOT NULL,
    cells       TEXT NOT NULL,
    PRIMARY KEY (dataset_id, row_idx)
)`,
	`CREATE TABLE IF NOT EXISTS cluster_runs (
    id          TEXT PRIMARY KEY,
    dataset_id  TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
    k           INTEGER NOT NULL,
    iterations  INTEGER NOT NULL,
    converged   INTEGER NOT NULL,
    inertia     DOUBLE PRECISION NOT NULL,
    centroids   TEXT NOT NULL,
    labels      TEXT NOT NULL,
    created_at  BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_cluster_runs_dataset ON cluster_runs(dataset_id, created_at DESC)`,
}

// Store is a dataset repository backed by sqlx.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	switch driver {
	case DriverSQLite:
		// one writer at a time; also keeps foreign keys on the only connection
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	default:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// DatasetInfo describes a stored dataset without its rows.
type DatasetInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Columns   []string  `json:"columns"`
	RowCount  int       `json:"row_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Dataset is a stored feature matrix.
type Dataset struct {
	DatasetInfo
	Rows [][]float64 `json:"rows"`
}

type datasetRecord struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Columns   string `db:"columns"`
	RowCount  int    `db:"row_count"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r datasetRecord) info() (DatasetInfo, error) {
	info := DatasetInfo{
		ID:        r.ID,
		Name:      r.Name,
		RowCount:  r.RowCount,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.Columns), &info.Columns); err != nil {
		return DatasetInfo{}, fmt.Errorf("decode columns of %s: %w", r.Name, err)
	}
	return info, nil
}

// SaveDataset stores rows under name, replacing any previous content of
// that dataset. Missing cells are kept. It returns the dataset id, which
// is stable across replacements.
func (s *Store) SaveDataset(ctx context.Context, name string, columns []string, rows [][]float64) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: dataset name is empty", matrix.ErrData)
	}
	if len(rows) > 0 {
		cols, err := matrix.Validate(rows)
		if err != nil {
			return "", err
		}
		if columns != nil && len(columns) != cols {
			return "", fmt.Errorf("%w: %d column names for %d columns", matrix.ErrData, len(columns), cols)
		}
	}
	colJSON, err := json.Marshal(columns)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	var id string
	err = tx.GetContext(ctx, &id, tx.Rebind(`SELECT id FROM datasets WHERE name = ?`), name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.New().String()
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO datasets (id, name, columns, row_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			id, name, string(colJSON), len(rows), now, now)
	case err == nil:
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE datasets SET columns = ?, row_count = ?, updated_at = ? WHERE id = ?`),
			string(colJSON), len(rows), now, id)
		if err == nil {
			_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM dataset_rows WHERE dataset_id = ?`), id)
		}
	}
	if err != nil {
		return "", fmt.Errorf("save dataset %s: %w", name, err)
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO dataset_rows (dataset_id, row_idx, cells) VALUES (?, ?, ?)`))
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for i, row := range rows {
		cells, err := encodeRow(row)
		if err != nil {
			return "", err
		}
		if _, err := stmt.ExecContext(ctx, id, i, cells); err != nil {
			return "", fmt.Errorf("save dataset %s row %d: %w", name, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// LoadDataset returns the dataset stored under name.
func (s *Store) LoadDataset(ctx context.Context, name string) (*Dataset, error) {
	var rec datasetRecord
	err := s.db.GetContext(ctx, &rec, s.db.Rebind(`
		SELECT id, name, columns, row_count, created_at, updated_at
		FROM datasets WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	info, err := rec.info()
	if err != nil {
		return nil, err
	}

	var cells []string
	err = s.db.SelectContext(ctx, &cells, s.db.Rebind(`
		SELECT cells FROM dataset_rows WHERE dataset_id = ? ORDER BY row_idx`), rec.ID)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{DatasetInfo: info, Rows: make([][]float64, len(cells))}
	for i, c := range cells {
		row, err := decodeRow(c)
		if err != nil {
			return nil, fmt.Errorf("dataset %s row %d: %w", name, i, err)
		}
		ds.Rows[i] = row
	}
	return ds, nil
}

// ListDatasets returns every stored dataset, most recently updated first.
func (s *Store) ListDatasets(ctx context.Context) ([]DatasetInfo, error) {
	var recs []datasetRecord
	err := s.db.SelectContext(ctx, &recs, `
		SELECT id, name, columns, row_count, created_at, updated_at
		FROM datasets ORDER BY updated_at DESC, name`)
	if err != nil {
		return nil, err
	}

	out := make([]DatasetInfo, 0, len(recs))
	for _, r := range recs {
		info, err := r.info()
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// DeleteDataset removes a dataset with its rows and runs.
func (s *Store) DeleteDataset(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM datasets WHERE name = ?`), name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("dataset %s: %w", name, ErrNotFound)
	}
	return nil
}

// encodeRow stores a row as a JSON array with null for missing cells.
func encodeRow(row []float64) (string, error) {
	cells := make([]*float64, len(row))
	for j := range row {
		if !matrix.IsMissing(row[j]) {
			cells[j] = &row[j]
		}
	}
	b, err := json.Marshal(cells)
	return string(b), err
}

func decodeRow(s string) ([]float64, error) {
	var cells []*float64
	if err := json.Unmarshal([]byte(s), &cells); err != nil {
		return nil, err
	}
	row := make([]float64, len(cells))
	for j, c := range cells {
		if c == nil {
			row[j] = matrix.Missing()
			continue
		}
		row[j] = *c
	}
	return row, nil
}
