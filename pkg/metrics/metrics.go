// Package metrics exposes Prometheus collectors for pipeline runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors of one registry.
type Metrics struct {
	Registry *prometheus.Registry

	StageDuration     *prometheus.HistogramVec
	StageErrors       *prometheus.CounterVec
	RowsProcessed     *prometheus.CounterVec
	CellsImputed      prometheus.Counter
	ClusterIterations prometheus.Histogram
	ClusterInertia    prometheus.Gauge
	AnomaliesDetected prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goguard_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
			},
			[]string{"stage"},
		),

		StageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goguard_stage_errors_total",
				Help: "Total number of failed pipeline stages",
			},
			[]string{"stage"},
		),

		RowsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goguard_rows_processed_total",
				Help: "Total number of rows processed per stage",
			},
			[]string{"stage"},
		),

		CellsImputed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "goguard_cells_imputed_total",
				Help: "Total number of missing cells filled by imputation",
			},
		),

		ClusterIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "goguard_kmeans_iterations",
				Help:    "Iterations used by K-Means fits",
				Buckets: prometheus.LinearBuckets(5, 5, 20),
			},
		),

		ClusterInertia: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "goguard_kmeans_inertia",
				Help: "Inertia of the most recent K-Means fit",
			},
		),

		AnomaliesDetected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "goguard_anomalies_detected_total",
				Help: "Total number of rows flagged as anomalous",
			},
		),
	}
}

// WriteTextfile writes the current values in the text exposition format,
// for node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
