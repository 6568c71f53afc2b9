// Package centroid detects anomalies as samples lying far from every
// K-Means centroid.
package centroid

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sort"
	"sync"

	"github.com/hed1ad/goguard/pkg/cluster/kmeans"
	"github.com/hed1ad/goguard/pkg/detectors"
	"github.com/hed1ad/goguard/pkg/matrix"
)

// Detector scores a sample by its distance d to the nearest centroid,
// mapped onto [0, 1) as d / (1 + d).
type Detector struct {
	mu sync.RWMutex

	model         *kmeans.KMeans
	contamination float64
	threshold     float64
	trained       bool
}

var _ detectors.StreamDetector = (*Detector)(nil)

// Option configures a Detector.
type Option func(*Detector)

// WithContamination sets the expected share of anomalies in training data;
// Fit places the threshold at the matching score percentile. Zero keeps the
// threshold as configured.
func WithContamination(c float64) Option {
	return func(d *Detector) {
		d.contamination = c
	}
}

// WithThreshold sets a fixed score threshold.
func WithThreshold(t float64) Option {
	return func(d *Detector) {
		d.threshold = t
	}
}

// New creates a detector on top of a configured clustering engine. A nil
// model gets kmeans defaults.
func New(model *kmeans.KMeans, opts ...Option) *Detector {
	if model == nil {
		model = kmeans.New()
	}
	d := &Detector{
		model:         model,
		contamination: 0.1,
		threshold:     0.5,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Fit clusters the training data and calibrates the threshold.
func (d *Detector) Fit(data [][]float64) error {
	_, err := d.FitResult(data)
	return err
}

// FitResult is Fit that also returns the clustering of the training data.
func (d *Detector) FitResult(data [][]float64) (*kmeans.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.contamination < 0 || d.contamination >= 1 {
		return nil, fmt.Errorf("%w: contamination must be in [0, 1), got %v", matrix.ErrInvalidConfiguration, d.contamination)
	}
	res, err := d.model.Fit(data)
	if err != nil {
		return nil, err
	}
	d.trained = true

	if d.contamination > 0 {
		scores, err := d.predict(data)
		if err != nil {
			return nil, err
		}
		d.threshold = percentile(scores, 100*(1-d.contamination))
	}

	return res, nil
}

// Model returns the underlying clustering engine.
func (d *Detector) Model() *kmeans.KMeans {
	return d.model
}

// Predict returns anomaly scores for the given samples.
func (d *Detector) Predict(data [][]float64) ([]float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.trained {
		return nil, matrix.ErrNotFitted
	}
	return d.predict(data)
}

func (d *Detector) predict(data [][]float64) ([]float64, error) {
	_, dists, err := d.model.Assign(data)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(dists))
	for i, dist := range dists {
		scores[i] = dist / (1 + dist)
	}
	return scores, nil
}

// PredictOne returns the anomaly score for a single sample.
func (d *Detector) PredictOne(sample []float64) (float64, error) {
	score, _, err := d.scoreOne(sample)
	return score, err
}

func (d *Detector) scoreOne(sample []float64) (float64, int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.trained {
		return 0, 0, matrix.ErrNotFitted
	}
	labels, dists, err := d.model.Assign([][]float64{sample})
	if err != nil {
		return 0, 0, err
	}
	return dists[0] / (1 + dists[0]), labels[0], nil
}

// PredictStream scores samples from input until it is closed. Samples that
// cannot be scored are skipped.
func (d *Detector) PredictStream(ctx context.Context, input <-chan []float64, output chan<- detectors.Score) error {
	defer close(output)

	d.mu.RLock()
	trained := d.trained
	d.mu.RUnlock()
	if !trained {
		return matrix.ErrNotFitted
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-input:
			if !ok {
				return nil
			}

			score, cluster, err := d.scoreOne(sample)
			if err != nil {
				continue
			}

			select {
			case output <- detectors.Score{
				Value:     score,
				IsAnomaly: score >= d.Threshold(),
				Features:  sample,
				Metadata:  map[string]any{"cluster": cluster},
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Threshold returns the current anomaly threshold.
func (d *Detector) Threshold() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.threshold
}

// SetThreshold updates the anomaly threshold.
func (d *Detector) SetThreshold(t float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = t
}

// Save serializes the trained detector.
func (d *Detector) Save() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.trained {
		return nil, matrix.ErrNotFitted
	}
	model, err := d.model.Save()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	for _, v := range []any{d.contamination, d.threshold, model} {
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Load restores a detector produced by Save.
func (d *Detector) Load(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var model []byte
	dec := gob.NewDecoder(bytes.NewBuffer(data))
	for _, v := range []any{&d.contamination, &d.threshold, &model} {
		if err := dec.Decode(v); err != nil {
			return err
		}
	}
	if err := d.model.Load(model); err != nil {
		return err
	}

	d.trained = true
	return nil
}

// percentile returns the p-th percentile of data by nearest rank below.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}
