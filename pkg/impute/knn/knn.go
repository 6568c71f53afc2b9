// Package knn fills missing cells of a feature matrix from the values of
// each cell's nearest neighbors.
//
// Distances are masked: a pair of rows is compared only on the columns
// both of them have observed, so the feature set can differ from one pair
// to the next. Cells are processed in row-major order and, by default, a
// value written for one cell is visible to every cell processed after it.
// WithSnapshot switches to imputing every cell from the unmodified input.
package knn

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/goguard/pkg/distance"
	"github.com/hed1ad/goguard/pkg/matrix"
)

// Imputer is a KNN missing-value imputer. It holds configuration only and
// is safe for concurrent use.
type Imputer struct {
	neighbors   int
	metric      distance.Metric
	aggregation Aggregation
	snapshot    bool
	workers     int
	logger      *zap.Logger
}

// Option configures an Imputer.
type Option func(*Imputer)

// WithNeighbors sets the number of neighbors aggregated per cell.
func WithNeighbors(n int) Option {
	return func(im *Imputer) {
		im.neighbors = n
	}
}

// WithMetric sets the distance metric.
func WithMetric(m distance.Metric) Option {
	return func(im *Imputer) {
		im.metric = m
	}
}

// WithAggregation sets how neighbor values are combined.
func WithAggregation(a Aggregation) Option {
	return func(im *Imputer) {
		im.aggregation = a
	}
}

// WithSnapshot makes every cell be imputed from the original matrix, so
// the result does not depend on processing order.
func WithSnapshot(on bool) Option {
	return func(im *Imputer) {
		im.snapshot = on
	}
}

// WithWorkers sets how many rows are imputed concurrently in snapshot
// mode. Sequential propagation always runs on one goroutine.
func WithWorkers(n int) Option {
	return func(im *Imputer) {
		im.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(im *Imputer) {
		if l != nil {
			im.logger = l
		}
	}
}

// New creates an Imputer with the given options.
func New(opts ...Option) *Imputer {
	im := &Imputer{
		neighbors:   5,
		metric:      distance.Euclidean,
		aggregation: Mean,
		workers:     1,
		logger:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(im)
	}

	return im
}

func (im *Imputer) validate() error {
	if im.neighbors < 1 {
		return fmt.Errorf("%w: neighbor count must be at least 1, got %d", matrix.ErrInvalidConfiguration, im.neighbors)
	}
	if err := im.metric.Validate(); err != nil {
		return err
	}
	return im.aggregation.Validate()
}

// FitTransform returns a copy of data with every missing cell filled.
// Observed cells are copied unchanged. On error no matrix is returned.
func (im *Imputer) FitTransform(data [][]float64) ([][]float64, error) {
	if err := im.validate(); err != nil {
		return nil, err
	}
	if _, err := matrix.Validate(data); err != nil {
		return nil, err
	}
	if cols := matrix.FullyMissingColumns(data); len(cols) > 0 {
		return nil, fmt.Errorf("%w: columns %v are missing in every row", matrix.ErrData, cols)
	}

	missing := matrix.CountMissing(data)
	out := matrix.Clone(data)
	if missing == 0 {
		return out, nil
	}

	var err error
	if im.snapshot {
		err = im.imputeSnapshot(data, out)
	} else {
		err = im.imputeSequential(out)
	}
	if err != nil {
		return nil, err
	}

	im.logger.Info("knn imputation complete",
		zap.Int("rows", len(data)),
		zap.Int("imputed_cells", missing),
		zap.Int("neighbors", im.neighbors),
		zap.String("metric", string(im.metric)),
		zap.String("aggregation", string(im.aggregation)),
		zap.Bool("snapshot", im.snapshot),
	)

	return out, nil
}

// imputeSequential fills x in place; filled values feed later searches.
func (im *Imputer) imputeSequential(x [][]float64) error {
	for i := range x {
		for j := range x[i] {
			if !matrix.IsMissing(x[i][j]) {
				continue
			}
			v, err := im.imputeCell(x, i, j)
			if err != nil {
				return err
			}
			x[i][j] = v
		}
	}
	return nil
}

// imputeSnapshot reads neighbors from src only and writes into out. Rows
// are independent, so they can be spread over workers.
func (im *Imputer) imputeSnapshot(src, out [][]float64) error {
	var g errgroup.Group
	g.SetLimit(max(im.workers, 1))

	for i := range src {
		i := i
		g.Go(func() error {
			for j := range src[i] {
				if !matrix.IsMissing(src[i][j]) {
					continue
				}
				v, err := im.imputeCell(src, i, j)
				if err != nil {
					return err
				}
				out[i][j] = v
			}
			return nil
		})
	}
	return g.Wait()
}

type neighbor struct {
	row  int
	dist float64
}

// imputeCell computes the value for cell (i, j) from the rows of x.
func (im *Imputer) imputeCell(x [][]float64, i, j int) (float64, error) {
	pool := im.nearest(x, i, j)
	if len(pool) == 0 {
		return 0, fmt.Errorf("%w: no candidate rows for row %d column %d", matrix.ErrData, i, j)
	}

	values := make([]float64, len(pool))
	for n, nb := range pool {
		values[n] = x[nb.row][j]
	}

	v, err := im.aggregation.Apply(values)
	if err != nil {
		return 0, fmt.Errorf("row %d column %d: %w", i, j, err)
	}
	return v, nil
}

// nearest returns up to im.neighbors rows of x that have column j observed,
// ordered by masked distance to row i.
func (im *Imputer) nearest(x [][]float64, i, j int) []neighbor {
	pool := make([]neighbor, 0, len(x))
	for r, row := range x {
		if r == i || matrix.IsMissing(row[j]) {
			continue
		}
		d, _ := im.metric.Masked(x[i], row)
		if math.IsNaN(d) {
			d = math.Inf(1)
		}
		pool = append(pool, neighbor{row: r, dist: d})
	}

	// pool is in row order, so a stable sort breaks ties by row index
	sort.SliceStable(pool, func(a, b int) bool {
		return pool[a].dist < pool[b].dist
	})
	if len(pool) > im.neighbors {
		pool = pool[:im.neighbors]
	}
	return pool
}

// Neighbors returns the row indices that would be used to fill cell (i, j)
// of data, nearest first.
func (im *Imputer) Neighbors(data [][]float64, i, j int) ([]int, error) {
	if err := im.validate(); err != nil {
		return nil, err
	}
	if _, err := matrix.Validate(data); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(data) || j < 0 || j >= len(data[i]) {
		return nil, fmt.Errorf("%w: cell (%d, %d) out of range", matrix.ErrData, i, j)
	}

	pool := im.nearest(data, i, j)
	rows := make([]int, len(pool))
	for n, nb := range pool {
		rows[n] = nb.row
	}
	return rows, nil
}
