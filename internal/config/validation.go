package config

import (
	"fmt"

	"github.com/hed1ad/goguard/pkg/distance"
	"github.com/hed1ad/goguard/pkg/impute/knn"
	"github.com/hed1ad/goguard/pkg/store"
)

// ValidationError reports one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate returns every problem found, not just the first.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Impute.Neighbors < 1 {
		add("impute.neighbors", "must be at least 1, got %d", c.Impute.Neighbors)
	}
	if _, err := distance.ParseMetric(c.Impute.Metric); err != nil {
		add("impute.metric", "%v", err)
	}
	if _, err := knn.ParseAggregation(c.Impute.Aggregation); err != nil {
		add("impute.aggregation", "%v", err)
	}
	if c.Impute.Workers < 0 {
		add("impute.workers", "must not be negative, got %d", c.Impute.Workers)
	}

	if c.KMeans.K < 2 {
		add("kmeans.k", "must be at least 2, got %d", c.KMeans.K)
	}
	if c.KMeans.MaxIterations < 1 {
		add("kmeans.max_iterations", "must be at least 1, got %d", c.KMeans.MaxIterations)
	}
	if c.KMeans.Tolerance < 0 {
		add("kmeans.tolerance", "must not be negative, got %g", c.KMeans.Tolerance)
	}
	if c.KMeans.Workers < 0 {
		add("kmeans.workers", "must not be negative, got %d", c.KMeans.Workers)
	}

	if c.Detector.Contamination < 0 || c.Detector.Contamination >= 1 {
		add("detector.contamination", "must be in [0, 1), got %g", c.Detector.Contamination)
	}

	if c.Preprocess.MaxLabelCategories < 1 {
		add("preprocess.max_label_categories", "must be at least 1, got %d", c.Preprocess.MaxLabelCategories)
	}
	if c.Preprocess.MissingThreshold < 0 || c.Preprocess.MissingThreshold > 100 {
		add("preprocess.missing_threshold", "must be a percentage, got %g", c.Preprocess.MissingThreshold)
	}

	switch c.Store.Driver {
	case "":
	case store.DriverPostgres, store.DriverSQLite:
		if c.Store.DSN == "" {
			add("store.dsn", "required when store.driver is %s", c.Store.Driver)
		}
	default:
		add("store.driver", "must be %s or %s, got %q", store.DriverPostgres, store.DriverSQLite, c.Store.Driver)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		add("logging.format", "must be json or console, got %q", c.Logging.Format)
	}

	return errs
}
