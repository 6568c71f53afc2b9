package cli

import (
	"encoding/json"
	"math"

	"github.com/spf13/cobra"

	"github.com/hed1ad/goguard/pkg/evaluation"
	gio "github.com/hed1ad/goguard/pkg/io"
	"github.com/hed1ad/goguard/pkg/matrix"
	"github.com/hed1ad/goguard/pkg/pipeline"
)

// pipelineSummary is the JSON document printed by the pipeline command.
type pipelineSummary struct {
	RunID          string                     `json:"run_id"`
	Rows           int                        `json:"rows"`
	Columns        []string                   `json:"columns"`
	MissingBefore  []matrix.ColumnMissing     `json:"missing_before"`
	MissingAfter   []matrix.ColumnMissing     `json:"missing_after"`
	CellsImputed   int                        `json:"cells_imputed"`
	K              int                        `json:"k"`
	Iterations     int                        `json:"iterations"`
	Converged      bool                       `json:"converged"`
	Inertia        float64                    `json:"inertia"`
	Silhouette     *float64                   `json:"silhouette,omitempty"`
	Threshold      float64                    `json:"threshold"`
	Anomalies      int                        `json:"anomalies"`
	Classification *evaluation.Classification `json:"classification,omitempty"`
	DatasetID      string                     `json:"dataset_id,omitempty"`
}

func newPipelineCmd(a *app) *cobra.Command {
	var input, output, imputedOut, dataset string

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Encode, impute, scale, cluster and score a table in one run",
		Long: "Runs the whole flow over a raw CSV table and prints a JSON summary.\n" +
			"The id column is dropped and a label column, when present, is used as\n" +
			"ground truth for precision, recall and F1 of the anomaly flags.",
		Example: "  goguard pipeline -i connections.csv --k 4 --store-driver sqlite --store-dsn goguard.db --dataset kdd",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			t, err := readTable(input)
			if err != nil {
				return err
			}

			opts := []pipeline.Option{
				pipeline.WithEncoder(a.encoder()),
				pipeline.WithImputer(a.imputer()),
				pipeline.WithDetector(a.detector()),
				pipeline.WithLogger(a.logger.Named("pipeline")),
				pipeline.WithMetrics(a.metrics),
				pipeline.WithDropColumns(a.cfg.Preprocess.DropColumns...),
				pipeline.WithLabelColumn(a.cfg.Preprocess.LabelColumn),
				pipeline.WithMissingThreshold(a.cfg.Preprocess.MissingThreshold),
				pipeline.WithScaling(a.cfg.Preprocess.Scale),
			}
			if dataset != "" {
				s, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer s.Close()
				opts = append(opts, pipeline.WithStore(s, dataset))
			}

			rep, err := pipeline.New(opts...).Run(ctx, t)
			if err != nil {
				return err
			}

			if imputedOut != "" {
				w, err := a.openOutput(imputedOut)
				if err != nil {
					return err
				}
				if err := w.WriteTable(rep.ImputedTable); err != nil {
					w.Close()
					return err
				}
				if err := w.Close(); err != nil {
					return err
				}
			}

			if output != "" {
				results := make([]gio.Result, len(rep.Scores))
				for i := range rep.Scores {
					results[i] = gio.Result{
						Row:       i,
						Cluster:   rep.Clustering.Labels[i],
						Score:     rep.Scores[i],
						IsAnomaly: rep.Anomalies[i],
					}
				}
				w, err := a.openOutput(output)
				if err != nil {
					return err
				}
				if err := w.WriteAll(results); err != nil {
					w.Close()
					return err
				}
				if err := w.Close(); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summarize(rep))
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "input CSV file with a header row")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write per-row cluster, score and flag to this CSV file")
	cmd.Flags().StringVar(&imputedOut, "imputed", "", "write the imputed table to this CSV file")
	cmd.Flags().StringVar(&dataset, "dataset", "", "store raw and processed data and the run under this name")
	cmd.Flags().Int("neighbors", 5, "number of neighbours per imputed cell")
	cmd.Flags().String("metric", "euclidean", "imputation distance metric")
	cmd.Flags().String("aggregation", "mean", "neighbour aggregation (mean, median, mode)")
	cmd.Flags().Bool("snapshot", false, "impute every cell from the original data, ignoring earlier fills")
	cmd.Flags().Int("workers", 0, "goroutines for imputation and assignment")
	cmd.Flags().Int("k", 5, "number of clusters")
	cmd.Flags().Int("max-iterations", 100, "iteration cap")
	cmd.Flags().Float64("tolerance", 1e-4, "per-coordinate centroid shift below which the run has converged")
	cmd.Flags().Int64("seed", 42, "seed for centroid initialisation")
	cmd.Flags().Float64("contamination", 0.1, "expected share of anomalies")
	cmd.Flags().Int("max-label-categories", 10, "largest category count encoded as labels instead of one-hot")
	cmd.Flags().Float64("missing-threshold", 0, "report columns with more missing values than this percentage")
	cmd.Flags().StringSlice("drop-columns", []string{"id"}, "columns removed before encoding")
	cmd.Flags().String("label-column", "label", "ground truth column, empty to disable")
	cmd.Flags().Bool("scale", true, "standardise columns before clustering")
	addStoreFlags(cmd)
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func summarize(rep *pipeline.Report) pipelineSummary {
	s := pipelineSummary{
		RunID:          rep.RunID,
		Rows:           len(rep.Imputed),
		Columns:        rep.Columns,
		MissingBefore:  rep.MissingBefore,
		MissingAfter:   rep.MissingAfter,
		CellsImputed:   rep.CellsImputed,
		K:              len(rep.Clustering.Centroids),
		Iterations:     rep.Clustering.Iterations,
		Converged:      rep.Clustering.Converged,
		Inertia:        rep.Clustering.Inertia,
		Threshold:      rep.Threshold,
		Classification: rep.Classification,
		DatasetID:      rep.DatasetID,
	}
	if rep.HasSilhouette && !math.IsNaN(rep.Silhouette) {
		sil := rep.Silhouette
		s.Silhouette = &sil
	}
	for _, flagged := range rep.Anomalies {
		if flagged {
			s.Anomalies++
		}
	}
	return s
}
