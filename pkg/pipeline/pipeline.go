// Package pipeline runs the full preprocessing and analysis flow over a raw
// table: encoding, missing-value reporting, KNN imputation, scaling,
// K-Means clustering, evaluation, anomaly flagging and optional storage.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hed1ad/goguard/pkg/cluster/kmeans"
	"github.com/hed1ad/goguard/pkg/detectors"
	"github.com/hed1ad/goguard/pkg/detectors/centroid"
	"github.com/hed1ad/goguard/pkg/evaluation"
	"github.com/hed1ad/goguard/pkg/impute/knn"
	"github.com/hed1ad/goguard/pkg/matrix"
	"github.com/hed1ad/goguard/pkg/metrics"
	"github.com/hed1ad/goguard/pkg/preprocess"
	"github.com/hed1ad/goguard/pkg/store"
)

// Stage names used in logs and metrics.
const (
	StageEncode   = "encode"
	StageImpute   = "impute"
	StageScale    = "scale"
	StageCluster  = "cluster"
	StageEvaluate = "evaluate"
	StageDetect   = "detect"
	StageStore    = "store"
)

// Pipeline is a configured analysis run. It is not safe for concurrent use.
type Pipeline struct {
	encoder  *preprocess.Encoder
	imputer  *knn.Imputer
	detector *centroid.Detector
	store    *store.Store
	logger   *zap.Logger
	metrics  *metrics.Metrics

	dropColumns      []string
	labelColumn      string
	missingThreshold float64
	scale            bool
	datasetName      string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEncoder sets the categorical encoder.
func WithEncoder(e *preprocess.Encoder) Option {
	return func(p *Pipeline) {
		p.encoder = e
	}
}

// WithImputer sets the KNN imputer.
func WithImputer(im *knn.Imputer) Option {
	return func(p *Pipeline) {
		p.imputer = im
	}
}

// WithDetector sets the clustering based detector.
func WithDetector(d *centroid.Detector) Option {
	return func(p *Pipeline) {
		p.detector = d
	}
}

// WithStore persists raw and processed datasets and the clustering run
// under the given dataset name.
func WithStore(s *store.Store, datasetName string) Option {
	return func(p *Pipeline) {
		p.store = s
		p.datasetName = datasetName
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithMetrics sets the metric collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithDropColumns removes the named columns before encoding.
func WithDropColumns(names ...string) Option {
	return func(p *Pipeline) {
		p.dropColumns = names
	}
}

// WithLabelColumn names the ground truth column. It is split off before
// encoding and used to score the anomaly flags.
func WithLabelColumn(name string) Option {
	return func(p *Pipeline) {
		p.labelColumn = name
	}
}

// WithMissingThreshold sets the percentage above which a column shows up
// in the missing-value reports.
func WithMissingThreshold(pct float64) Option {
	return func(p *Pipeline) {
		p.missingThreshold = pct
	}
}

// WithScaling toggles standard scaling before clustering.
func WithScaling(on bool) Option {
	return func(p *Pipeline) {
		p.scale = on
	}
}

// New creates a pipeline with defaults for every unset component.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		dropColumns: []string{"id"},
		labelColumn: "label",
		scale:       true,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.encoder == nil {
		p.encoder = preprocess.NewEncoder()
	}
	if p.imputer == nil {
		p.imputer = knn.New()
	}
	if p.detector == nil {
		p.detector = centroid.New(kmeans.New())
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}

	return p
}

// Report is the outcome of one Run.
type Report struct {
	RunID   string
	Columns []string

	MissingBefore []matrix.ColumnMissing
	MissingAfter  []matrix.ColumnMissing
	CellsImputed  int

	// Imputed holds the encoded matrix with every gap filled; ImputedTable
	// is the same data decoded back to raw categories.
	Imputed      [][]float64
	ImputedTable preprocess.Table
	// Features is the matrix the clustering ran on (scaled when enabled).
	Features [][]float64
	Scaler   *preprocess.StandardScaler

	Clustering    *kmeans.Result
	Silhouette    float64
	HasSilhouette bool

	Scores    []float64
	Anomalies []bool
	Threshold float64

	// Classification is set when the input carried a label column.
	Classification *evaluation.Classification

	DatasetID string
}

// Run executes every stage on t.
func (p *Pipeline) Run(ctx context.Context, t preprocess.Table) (*Report, error) {
	rep := &Report{RunID: uuid.New().String()}
	log := p.logger.With(zap.String("run_id", rep.RunID))
	rows := len(t.Rows)

	log.Info("pipeline started",
		zap.Int("rows", rows),
		zap.Int("columns", len(t.Columns)),
	)

	for _, name := range p.dropColumns {
		if rest, _, ok := preprocess.SplitColumn(t, name); ok {
			t = rest
			log.Debug("dropped column", zap.String("column", name))
		}
	}

	var truth []bool
	if p.labelColumn != "" {
		if rest, labels, ok := preprocess.SplitColumn(t, p.labelColumn); ok {
			t = rest
			truth = make([]bool, len(labels))
			for i, l := range labels {
				truth[i] = IsAnomalyLabel(l)
			}
		}
	}

	var raw [][]float64
	err := p.stage(ctx, log, StageEncode, rows, func() error {
		var err error
		raw, err = p.encoder.FitTransform(t)
		return err
	})
	if err != nil {
		return nil, err
	}
	rep.Columns = p.encoder.Columns()

	rep.MissingBefore = matrix.MissingSummary(raw, rep.Columns, p.missingThreshold)
	for _, m := range rep.MissingBefore {
		log.Info("missing values",
			zap.String("column", m.Name),
			zap.Int("missing", m.Missing),
			zap.Float64("percent", m.Percent),
		)
	}

	err = p.stage(ctx, log, StageImpute, rows, func() error {
		var err error
		rep.CellsImputed = matrix.CountMissing(raw)
		rep.Imputed, err = p.imputer.FitTransform(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.CellsImputed.Add(float64(rep.CellsImputed))
	rep.MissingAfter = matrix.MissingSummary(rep.Imputed, rep.Columns, p.missingThreshold)

	if rep.ImputedTable, err = p.encoder.Decode(rep.Imputed); err != nil {
		return nil, err
	}

	rep.Features = rep.Imputed
	if p.scale {
		err = p.stage(ctx, log, StageScale, rows, func() error {
			rep.Scaler = &preprocess.StandardScaler{}
			var err error
			rep.Features, err = rep.Scaler.FitTransform(rep.Imputed)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	err = p.stage(ctx, log, StageCluster, rows, func() error {
		var err error
		rep.Clustering, err = p.detector.FitResult(rep.Features)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.ClusterIterations.Observe(float64(rep.Clustering.Iterations))
	p.metrics.ClusterInertia.Set(rep.Clustering.Inertia)

	err = p.stage(ctx, log, StageEvaluate, rows, func() error {
		s, err := evaluation.Silhouette(rep.Features, rep.Clustering.Labels)
		if err != nil {
			// degenerate clusterings have no silhouette; not fatal
			log.Warn("silhouette unavailable", zap.Error(err))
			return nil
		}
		rep.Silhouette, rep.HasSilhouette = s, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, log, StageDetect, rows, func() error {
		var err error
		rep.Scores, err = p.detector.Predict(rep.Features)
		if err != nil {
			return err
		}
		rep.Threshold = p.detector.Threshold()
		rep.Anomalies = detectors.Flag(rep.Scores, rep.Threshold)
		if truth != nil {
			c, err := evaluation.Classify(truth, rep.Anomalies)
			if err != nil {
				return err
			}
			rep.Classification = &c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	flagged := 0
	for _, a := range rep.Anomalies {
		if a {
			flagged++
		}
	}
	p.metrics.AnomaliesDetected.Add(float64(flagged))

	if p.store != nil {
		err = p.stage(ctx, log, StageStore, rows, func() error {
			return p.persist(ctx, raw, rep)
		})
		if err != nil {
			return nil, err
		}
	}

	log.Info("pipeline complete",
		zap.Int("cells_imputed", rep.CellsImputed),
		zap.Int("iterations", rep.Clustering.Iterations),
		zap.Float64("inertia", rep.Clustering.Inertia),
		zap.Int("anomalies", flagged),
	)

	return rep, nil
}

func (p *Pipeline) persist(ctx context.Context, raw [][]float64, rep *Report) error {
	if _, err := p.store.SaveDataset(ctx, p.datasetName+"_raw", rep.Columns, raw); err != nil {
		return err
	}
	id, err := p.store.SaveDataset(ctx, p.datasetName+"_processed", rep.Columns, rep.Features)
	if err != nil {
		return err
	}
	rep.DatasetID = id

	return p.store.SaveRun(ctx, &store.Run{
		ID:         rep.RunID,
		DatasetID:  id,
		K:          len(rep.Clustering.Centroids),
		Iterations: rep.Clustering.Iterations,
		Converged:  rep.Clustering.Converged,
		Inertia:    rep.Clustering.Inertia,
		Centroids:  rep.Clustering.Centroids,
		Labels:     rep.Clustering.Labels,
	})
}

// stage runs fn, timing it and counting failures under name.
func (p *Pipeline) stage(ctx context.Context, log *zap.Logger, name string, rows int, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	p.metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		p.metrics.StageErrors.WithLabelValues(name).Inc()
		log.Error("stage failed", zap.String("stage", name), zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}

	p.metrics.RowsProcessed.WithLabelValues(name).Add(float64(rows))
	log.Info("stage complete", zap.String("stage", name), zap.Duration("duration", elapsed))
	return nil
}

// IsAnomalyLabel reads a ground truth cell. Numbers are anomalous when
// non-zero; the words normal, benign, false, no and an empty cell are not;
// any other text (attack names and the like) is.
func IsAnomalyLabel(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v != 0
	}
	switch s {
	case "", "normal", "benign", "false", "no":
		return false
	}
	return true
}
