// Package detectors defines the anomaly detector contract used by the
// pipeline and the CLI.
package detectors

import "context"

// Detector scores samples by how anomalous they look.
type Detector interface {
	// Fit trains the detector on complete (imputed, scaled) feature rows.
	Fit(data [][]float64) error

	// Predict returns anomaly scores in [0, 1) for the given samples.
	// Higher values indicate anomalies.
	Predict(data [][]float64) ([]float64, error)

	// PredictOne returns the anomaly score for a single sample.
	PredictOne(sample []float64) (float64, error)

	// Threshold returns the score at or above which a sample is anomalous.
	Threshold() float64

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// StreamDetector extends Detector with streaming capabilities.
type StreamDetector interface {
	Detector

	// PredictStream scores samples read from input until it is closed or
	// ctx is done.
	PredictStream(ctx context.Context, input <-chan []float64, output chan<- Score) error
}

// Score represents an anomaly detection result.
type Score struct {
	// Value is the anomaly score in [0, 1).
	Value float64
	// IsAnomaly indicates if the score reached the threshold.
	IsAnomaly bool
	// Features contains the original input features.
	Features []float64
	// Metadata carries detector specific details, such as the cluster.
	Metadata map[string]any
}

// Flag marks every score at or above threshold as anomalous.
func Flag(scores []float64, threshold float64) []bool {
	out := make([]bool, len(scores))
	for i, s := range scores {
		out[i] = s >= threshold
	}
	return out
}
