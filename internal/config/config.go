// Package config loads goguard settings from a YAML file, GOGUARD_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/hed1ad/goguard/internal/logging"
)

// EnvPrefix is the prefix of environment overrides, e.g. GOGUARD_KMEANS_K.
const EnvPrefix = "GOGUARD"

// Config is the full application configuration.
type Config struct {
	Impute     ImputeConfig
	KMeans     KMeansConfig
	Detector   DetectorConfig
	Preprocess PreprocessConfig
	Store      StoreConfig
	Logging    logging.Config
	Metrics    MetricsConfig
}

// ImputeConfig configures the KNN imputer.
type ImputeConfig struct {
	Neighbors   int
	Metric      string
	Aggregation string
	Snapshot    bool
	Workers     int
}

// KMeansConfig configures the clustering engine.
type KMeansConfig struct {
	K             int
	MaxIterations int
	Tolerance     float64
	Seed          int64
	Workers       int
}

// DetectorConfig configures the centroid distance detector.
type DetectorConfig struct {
	Contamination float64
}

// PreprocessConfig configures table encoding ahead of imputation.
type PreprocessConfig struct {
	MaxLabelCategories int
	MissingThreshold   float64 // percent; columns above it are reported
	DropColumns        []string
	LabelColumn        string
	Scale              bool
}

// StoreConfig selects the persistence backend. An empty driver disables it.
type StoreConfig struct {
	Driver string
	DSN    string
}

// MetricsConfig controls metric export.
type MetricsConfig struct {
	File string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Impute: ImputeConfig{
			Neighbors:   5,
			Metric:      "euclidean",
			Aggregation: "mean",
		},
		KMeans: KMeansConfig{
			K:             5,
			MaxIterations: 100,
			Tolerance:     1e-4,
			Seed:          42,
		},
		Detector: DetectorConfig{
			Contamination: 0.1,
		},
		Preprocess: PreprocessConfig{
			MaxLabelCategories: 10,
			MissingThreshold:   0,
			DropColumns:        []string{"id"},
			LabelColumn:        "label",
			Scale:              true,
		},
		Logging: logging.DefaultConfig(),
	}
}

// NewViper returns a viper instance with defaults and environment
// overrides registered. Flags may be bound to it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("impute.neighbors", d.Impute.Neighbors)
	v.SetDefault("impute.metric", d.Impute.Metric)
	v.SetDefault("impute.aggregation", d.Impute.Aggregation)
	v.SetDefault("impute.snapshot", d.Impute.Snapshot)
	v.SetDefault("impute.workers", d.Impute.Workers)

	v.SetDefault("kmeans.k", d.KMeans.K)
	v.SetDefault("kmeans.max_iterations", d.KMeans.MaxIterations)
	v.SetDefault("kmeans.tolerance", d.KMeans.Tolerance)
	v.SetDefault("kmeans.seed", d.KMeans.Seed)
	v.SetDefault("kmeans.workers", d.KMeans.Workers)

	v.SetDefault("detector.contamination", d.Detector.Contamination)

	v.SetDefault("preprocess.max_label_categories", d.Preprocess.MaxLabelCategories)
	v.SetDefault("preprocess.missing_threshold", d.Preprocess.MissingThreshold)
	v.SetDefault("preprocess.drop_columns", d.Preprocess.DropColumns)
	v.SetDefault("preprocess.label_column", d.Preprocess.LabelColumn)
	v.SetDefault("preprocess.scale", d.Preprocess.Scale)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("metrics.file", d.Metrics.File)
}

// Load reads path (optional; a missing file falls back to defaults and
// environment) into a Config and validates it.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := fromViper(v)
	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return nil, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Impute.Neighbors = v.GetInt("impute.neighbors")
	cfg.Impute.Metric = v.GetString("impute.metric")
	cfg.Impute.Aggregation = v.GetString("impute.aggregation")
	cfg.Impute.Snapshot = v.GetBool("impute.snapshot")
	cfg.Impute.Workers = v.GetInt("impute.workers")

	cfg.KMeans.K = v.GetInt("kmeans.k")
	cfg.KMeans.MaxIterations = v.GetInt("kmeans.max_iterations")
	cfg.KMeans.Tolerance = v.GetFloat64("kmeans.tolerance")
	cfg.KMeans.Seed = v.GetInt64("kmeans.seed")
	cfg.KMeans.Workers = v.GetInt("kmeans.workers")

	cfg.Detector.Contamination = v.GetFloat64("detector.contamination")

	cfg.Preprocess.MaxLabelCategories = v.GetInt("preprocess.max_label_categories")
	cfg.Preprocess.MissingThreshold = v.GetFloat64("preprocess.missing_threshold")
	cfg.Preprocess.DropColumns = v.GetStringSlice("preprocess.drop_columns")
	cfg.Preprocess.LabelColumn = v.GetString("preprocess.label_column")
	cfg.Preprocess.Scale = v.GetBool("preprocess.scale")

	cfg.Store.Driver = v.GetString("store.driver")
	cfg.Store.DSN = v.GetString("store.dsn")

	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.File = v.GetString("logging.file")
	cfg.Logging.MaxSize = v.GetInt("logging.max_size")
	cfg.Logging.MaxBackups = v.GetInt("logging.max_backups")
	cfg.Logging.MaxAge = v.GetInt("logging.max_age")
	cfg.Logging.Compress = v.GetBool("logging.compress")

	cfg.Metrics.File = v.GetString("metrics.file")

	return cfg
}
