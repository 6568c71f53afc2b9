// Package cli implements the goguard command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hed1ad/goguard/internal/config"
	"github.com/hed1ad/goguard/internal/logging"
	"github.com/hed1ad/goguard/pkg/cluster/kmeans"
	"github.com/hed1ad/goguard/pkg/detectors/centroid"
	"github.com/hed1ad/goguard/pkg/distance"
	"github.com/hed1ad/goguard/pkg/impute/knn"
	"github.com/hed1ad/goguard/pkg/metrics"
	"github.com/hed1ad/goguard/pkg/preprocess"
)

// flagBindings maps command line flags onto configuration keys. A flag is
// bound only for the command that declares it.
var flagBindings = map[string][]string{
	"log-level":            {"logging.level"},
	"log-format":           {"logging.format"},
	"log-file":             {"logging.file"},
	"metrics-file":         {"metrics.file"},
	"neighbors":            {"impute.neighbors"},
	"metric":               {"impute.metric"},
	"aggregation":          {"impute.aggregation"},
	"snapshot":             {"impute.snapshot"},
	"workers":              {"impute.workers", "kmeans.workers"},
	"k":                    {"kmeans.k"},
	"max-iterations":       {"kmeans.max_iterations"},
	"tolerance":            {"kmeans.tolerance"},
	"seed":                 {"kmeans.seed"},
	"contamination":        {"detector.contamination"},
	"max-label-categories": {"preprocess.max_label_categories"},
	"missing-threshold":    {"preprocess.missing_threshold"},
	"drop-columns":         {"preprocess.drop_columns"},
	"label-column":         {"preprocess.label_column"},
	"scale":                {"preprocess.scale"},
	"store-driver":         {"store.driver"},
	"store-dsn":            {"store.dsn"},
}

type app struct {
	v        *viper.Viper
	cfgFile  string
	cfg      *config.Config
	logger   *zap.Logger
	closeLog func() error
	metrics  *metrics.Metrics

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	cmd, a := newRootCommand(os.Stdin, os.Stdout, os.Stderr)
	err := cmd.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCommand(in io.Reader, out, errOut io.Writer) (*cobra.Command, *app) {
	a := &app{
		v:      config.NewViper(),
		logger: zap.NewNop(),
		stdin:  in,
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:   "goguard",
		Short: "Missing-value imputation, clustering and anomaly detection for network data",
		Long: "goguard fills gaps in tabular network data with k-nearest-neighbour imputation,\n" +
			"groups records with K-Means and flags records far from every cluster.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	defaults := logging.DefaultConfig()
	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "path to a YAML configuration file")
	cmd.PersistentFlags().String("log-level", defaults.Level, "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.Format, "log format (console, json)")
	cmd.PersistentFlags().String("log-file", "", "also write JSON logs to this file, rotated by size")
	cmd.PersistentFlags().String("metrics-file", "", "write Prometheus metrics to this file on exit")

	cmd.AddCommand(
		newImputeCmd(a),
		newClusterCmd(a),
		newDetectCmd(a),
		newPipelineCmd(a),
		newFeaturesCmd(a),
	)

	return cmd, a
}

// setup binds the running command's flags, then loads configuration and
// builds the logger and metrics.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	for name, keys := range flagBindings {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		for _, key := range keys {
			if err := a.v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	a.logger = logger.Named("goguard")
	a.closeLog = closeLog
	a.metrics = metrics.New()

	a.logger.Debug("configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("config_file", a.cfgFile),
	)
	return nil
}

func (a *app) close() error {
	var err error
	if a.metrics != nil && a.cfg != nil && a.cfg.Metrics.File != "" {
		if err = a.metrics.WriteTextfile(a.cfg.Metrics.File); err != nil {
			a.logger.Error("failed to write metrics", zap.Error(err))
		}
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
	return err
}

func (a *app) encoder() *preprocess.Encoder {
	return preprocess.NewEncoder(preprocess.WithMaxLabelCategories(a.cfg.Preprocess.MaxLabelCategories))
}

func (a *app) imputer() *knn.Imputer {
	// both names were checked by config validation
	metric, _ := distance.ParseMetric(a.cfg.Impute.Metric)
	agg, _ := knn.ParseAggregation(a.cfg.Impute.Aggregation)

	return knn.New(
		knn.WithNeighbors(a.cfg.Impute.Neighbors),
		knn.WithMetric(metric),
		knn.WithAggregation(agg),
		knn.WithSnapshot(a.cfg.Impute.Snapshot),
		knn.WithWorkers(a.cfg.Impute.Workers),
		knn.WithLogger(a.logger.Named("knn")),
	)
}

func (a *app) kmeans() *kmeans.KMeans {
	return kmeans.New(
		kmeans.WithK(a.cfg.KMeans.K),
		kmeans.WithMaxIterations(a.cfg.KMeans.MaxIterations),
		kmeans.WithTolerance(a.cfg.KMeans.Tolerance),
		kmeans.WithSeed(a.cfg.KMeans.Seed),
		kmeans.WithWorkers(a.cfg.KMeans.Workers),
		kmeans.WithLogger(a.logger.Named("kmeans")),
	)
}

func (a *app) detector() *centroid.Detector {
	return centroid.New(a.kmeans(), centroid.WithContamination(a.cfg.Detector.Contamination))
}
