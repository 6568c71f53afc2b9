package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/goguard/pkg/cluster/kmeans"
	"github.com/hed1ad/goguard/pkg/distance"
	"github.com/hed1ad/goguard/pkg/evaluation"
	gio "github.com/hed1ad/goguard/pkg/io"
	"github.com/hed1ad/goguard/pkg/matrix"
	"github.com/hed1ad/goguard/pkg/preprocess"
	"github.com/hed1ad/goguard/pkg/store"
)

// features loads a complete table from path and encodes it. Tables with
// gaps must go through impute first.
func (a *app) features(path string) ([]string, [][]float64, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, nil, err
	}

	enc := a.encoder()
	data, err := enc.FitTransform(t)
	if err != nil {
		return nil, nil, err
	}
	if n := matrix.CountMissing(data); n > 0 {
		return nil, nil, fmt.Errorf("%w: %s has %d missing cells, run impute first", matrix.ErrData, path, n)
	}
	return enc.Columns(), data, nil
}

// scaler fits a standard scaler on data, or returns nil when scaling is off.
func (a *app) scaler(data [][]float64) (*preprocess.StandardScaler, error) {
	if !a.cfg.Preprocess.Scale {
		return nil, nil
	}
	s := &preprocess.StandardScaler{}
	if err := s.Fit(data); err != nil {
		return nil, err
	}
	return s, nil
}

func newClusterCmd(a *app) *cobra.Command {
	var input, output, centroidsOut, dataset string

	cmd := &cobra.Command{
		Use:     "cluster",
		Short:   "Group rows with K-Means",
		Long:    "Clusters a complete CSV table and writes one cluster label per row.",
		Example: "  goguard cluster -i flows_imputed.csv --k 4 --centroids centroids.csv",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			columns, data, err := a.features(input)
			if err != nil {
				return err
			}
			sc, err := a.scaler(data)
			if err != nil {
				return err
			}
			if sc != nil {
				if data, err = sc.Transform(data); err != nil {
					return err
				}
			}

			model := a.kmeans()
			res, err := model.Fit(data)
			if err != nil {
				return err
			}
			a.metrics.ClusterIterations.Observe(float64(res.Iterations))
			a.metrics.ClusterInertia.Set(res.Inertia)
			a.metrics.RowsProcessed.WithLabelValues("cluster").Add(float64(len(data)))

			fmt.Fprintf(a.stderr, "k=%d iterations=%d converged=%t inertia=%.6g\n",
				model.K(), res.Iterations, res.Converged, res.Inertia)
			if s, err := evaluation.Silhouette(data, res.Labels); err == nil {
				fmt.Fprintf(a.stderr, "silhouette=%.4f\n", s)
			}

			if centroidsOut != "" {
				cw, err := a.openOutput(centroidsOut)
				if err != nil {
					return err
				}
				if err := cw.WriteMatrix(columns, res.Centroids); err != nil {
					cw.Close()
					return err
				}
				if err := cw.Close(); err != nil {
					return err
				}
			}

			if dataset != "" {
				if err := a.saveRun(cmd.Context(), dataset, columns, data, res); err != nil {
					return err
				}
			}

			results := make([]gio.Result, len(data))
			for i := range data {
				c := res.Labels[i]
				results[i] = gio.Result{Row: i, Cluster: c, Score: distance.Euclidean.Between(data[i], res.Centroids[c])}
			}

			w, err := a.openOutput(output)
			if err != nil {
				return err
			}
			if err := w.WriteAll(results); err != nil {
				w.Close()
				return err
			}
			return w.Close()
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "input CSV file without missing values")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output CSV of row assignments (default stdout)")
	cmd.Flags().StringVar(&centroidsOut, "centroids", "", "write centroids to this CSV file")
	cmd.Flags().StringVar(&dataset, "dataset", "", "store the features and the run under this dataset name")
	cmd.Flags().Int("k", 5, "number of clusters")
	cmd.Flags().Int("max-iterations", 100, "iteration cap")
	cmd.Flags().Float64("tolerance", 1e-4, "per-coordinate centroid shift below which the run has converged")
	cmd.Flags().Int64("seed", 42, "seed for centroid initialisation")
	cmd.Flags().Int("workers", 0, "goroutines for the assignment step")
	cmd.Flags().Bool("scale", true, "standardise columns before clustering")
	cmd.Flags().Int("max-label-categories", 10, "largest category count encoded as labels instead of one-hot")
	addStoreFlags(cmd)
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store-driver", "", "persist to a database (postgres, sqlite)")
	cmd.Flags().String("store-dsn", "", "database connection string or SQLite file")
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	if a.cfg.Store.Driver == "" {
		return nil, fmt.Errorf("%w: --store-driver is required to store results", matrix.ErrInvalidConfiguration)
	}
	return store.Open(ctx, a.cfg.Store.Driver, a.cfg.Store.DSN)
}

func (a *app) saveRun(ctx context.Context, dataset string, columns []string, data [][]float64, res *kmeans.Result) error {
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.SaveDataset(ctx, dataset, columns, data)
	if err != nil {
		return err
	}
	run := &store.Run{
		DatasetID:  id,
		K:          len(res.Centroids),
		Iterations: res.Iterations,
		Converged:  res.Converged,
		Inertia:    res.Inertia,
		Centroids:  res.Centroids,
		Labels:     res.Labels,
	}
	if err := s.SaveRun(ctx, run); err != nil {
		return err
	}

	a.logger.Info("clustering run stored",
		zap.String("dataset", dataset),
		zap.String("dataset_id", id),
		zap.String("run_id", run.ID),
	)
	return nil
}
