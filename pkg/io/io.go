// Package io defines the sources and sinks goguard reads flow data from and
// writes results to. Matrices use NaN for missing cells, the sentinel the
// imputation engine fills.
package io

import (
	"context"

	"github.com/hed1ad/goguard/pkg/preprocess"
)

// Reader yields numeric feature rows.
type Reader interface {
	// Read returns every remaining row.
	Read() ([][]float64, error)

	// Stream sends rows one by one until the source is drained or ctx is done.
	Stream(ctx context.Context) (<-chan []float64, error)

	Close() error
}

// TableReader yields raw string cells with their column names, before any
// encoding has taken place.
type TableReader interface {
	ReadTable() (preprocess.Table, error)
	Close() error
}

// FeatureExtractor turns one raw record, such as a captured packet, into a
// fixed-width feature row. Features that do not apply to the record are NaN.
type FeatureExtractor interface {
	Extract(data any) ([]float64, error)

	// FeatureNames names the columns of every extracted row.
	FeatureNames() []string
}

// Writer emits per-row clustering and anomaly results.
type Writer interface {
	Write(result Result) error
	WriteAll(results []Result) error

	// Close flushes buffered output and releases resources.
	Close() error
}

// TableWriter emits imputed tables and numeric matrices such as centroids
// or extracted features.
type TableWriter interface {
	WriteTable(t preprocess.Table) error
	WriteMatrix(headers []string, data [][]float64) error
	Close() error
}

// Result is the outcome for one input row: the cluster it was assigned to,
// its anomaly score and whether the score crossed the threshold.
type Result struct {
	Row       int            `json:"row"`
	Cluster   int            `json:"cluster"`
	Score     float64        `json:"score"`
	IsAnomaly bool           `json:"is_anomaly"`
	Features  []float64      `json:"features,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
