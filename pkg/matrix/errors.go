package matrix

import "errors"

// Sentinel errors shared by the numeric engines. Callers match them with
// errors.Is; engines wrap them with context using fmt.Errorf("%w: ...").
// None of them is transient, so nothing in this module retries on them.
var (
	// ErrInvalidConfiguration reports a bad parameter value, detected before
	// any computation starts.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrNotFitted reports an operation that needs a completed Fit.
	ErrNotFitted = errors.New("model not fitted")

	// ErrData reports input that violates a structural precondition: empty or
	// ragged matrix, wrong dimensionality, unexpected missing values, or a
	// cell that cannot be resolved.
	ErrData = errors.New("data error")

	// ErrUnsupportedAggregation reports an unknown aggregation name.
	ErrUnsupportedAggregation = errors.New("unsupported aggregation")

	// ErrUnsupportedMetric reports an unknown distance metric name.
	ErrUnsupportedMetric = errors.New("unsupported metric")
)
