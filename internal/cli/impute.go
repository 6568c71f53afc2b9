package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/goguard/pkg/matrix"
)

func newImputeCmd(a *app) *cobra.Command {
	var input, output string

	cmd := &cobra.Command{
		Use:   "impute",
		Short: "Fill missing values with k-nearest-neighbour imputation",
		Long: "Reads a CSV table, encodes categorical columns, fills every missing cell from\n" +
			"its nearest rows and writes the table back with the original categories.",
		Example: "  goguard impute -i flows.csv -o flows_imputed.csv --neighbors 3 --aggregation median",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := readTable(input)
			if err != nil {
				return err
			}

			enc := a.encoder()
			raw, err := enc.FitTransform(t)
			if err != nil {
				return err
			}
			a.printMissing("missing before imputation", matrix.MissingSummary(raw, enc.Columns(), a.cfg.Preprocess.MissingThreshold))

			missing := matrix.CountMissing(raw)
			filled, err := a.imputer().FitTransform(raw)
			if err != nil {
				return err
			}
			a.metrics.CellsImputed.Add(float64(missing))
			a.metrics.RowsProcessed.WithLabelValues("impute").Add(float64(len(raw)))
			a.printMissing("missing after imputation", matrix.MissingSummary(filled, enc.Columns(), a.cfg.Preprocess.MissingThreshold))

			out, err := enc.Decode(filled)
			if err != nil {
				return err
			}

			w, err := a.openOutput(output)
			if err != nil {
				return err
			}
			if err := w.WriteTable(out); err != nil {
				w.Close()
				return err
			}

			a.logger.Info("imputation complete",
				zap.String("input", input),
				zap.Int("rows", len(raw)),
				zap.Int("cells_imputed", missing),
			)
			return w.Close()
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "input CSV file with a header row")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output CSV file (default stdout)")
	cmd.Flags().Int("neighbors", 5, "number of neighbours per imputed cell")
	cmd.Flags().String("metric", "euclidean", "distance metric (euclidean, sqeuclidean, manhattan, chebyshev, cosine)")
	cmd.Flags().String("aggregation", "mean", "neighbour aggregation (mean, median, mode)")
	cmd.Flags().Bool("snapshot", false, "impute every cell from the original data, ignoring earlier fills")
	cmd.Flags().Int("workers", 0, "concurrent rows in snapshot mode")
	cmd.Flags().Int("max-label-categories", 10, "largest category count encoded as labels instead of one-hot")
	cmd.Flags().Float64("missing-threshold", 0, "report columns with more missing values than this percentage")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}
