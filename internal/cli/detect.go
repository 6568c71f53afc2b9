package cli

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/goguard/pkg/detectors"
	"github.com/hed1ad/goguard/pkg/detectors/centroid"
	gio "github.com/hed1ad/goguard/pkg/io"
	"github.com/hed1ad/goguard/pkg/matrix"
	"github.com/hed1ad/goguard/pkg/preprocess"
)

// modelFile is what --save-model writes: the detector plus the column
// layout and scaling it was trained with.
type modelFile struct {
	Columns  []string
	Scaler   *preprocess.StandardScaler
	Detector []byte
}

func newDetectCmd(a *app) *cobra.Command {
	var input, output, modelIn, modelOut string
	var threshold float64

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Flag rows far from every K-Means centroid",
		Long: "Scores every row by its distance to the nearest centroid, mapped to [0, 1).\n" +
			"Without --model the detector is trained on the input first and its threshold\n" +
			"is set so that the contamination share of rows is flagged.",
		Example: "  goguard detect -i flows_imputed.csv --k 3 --contamination 0.05 --save-model model.gob",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			columns, data, err := a.features(input)
			if err != nil {
				return err
			}

			d := a.detector()
			var sc *preprocess.StandardScaler
			if modelIn != "" {
				mf, err := loadModel(modelIn, d)
				if err != nil {
					return err
				}
				if !slices.Equal(mf.Columns, columns) {
					return fmt.Errorf("%w: %s was trained on columns %v, input has %v", matrix.ErrData, modelIn, mf.Columns, columns)
				}
				sc = mf.Scaler
			} else if sc, err = a.scaler(data); err != nil {
				return err
			}

			if sc != nil {
				if data, err = sc.Transform(data); err != nil {
					return err
				}
			}
			if modelIn == "" {
				if err := d.Fit(data); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("threshold") {
				d.SetThreshold(threshold)
			}

			results, err := score(d, data)
			if err != nil {
				return err
			}

			flagged := 0
			for _, r := range results {
				if r.IsAnomaly {
					flagged++
				}
			}
			a.metrics.AnomaliesDetected.Add(float64(flagged))
			a.metrics.RowsProcessed.WithLabelValues("detect").Add(float64(len(data)))
			fmt.Fprintf(a.stderr, "anomalies=%d/%d threshold=%.4f\n", flagged, len(data), d.Threshold())

			if modelOut != "" {
				if err := saveModel(modelOut, d, columns, sc); err != nil {
					return err
				}
				a.logger.Info("model saved", zap.String("path", modelOut))
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
	cmd.Flags().StringVarP(&output, "output", "o", "", "output CSV of scores (default stdout)")
	cmd.Flags().StringVar(&modelIn, "model", "", "score with a previously saved model instead of training")
	cmd.Flags().StringVar(&modelOut, "save-model", "", "save the detector to this file")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.5, "override the anomaly score threshold")
	cmd.Flags().Float64("contamination", 0.1, "expected share of anomalies, used to calibrate the threshold")
	cmd.Flags().Int("k", 5, "number of clusters")
	cmd.Flags().Int("max-iterations", 100, "iteration cap")
	cmd.Flags().Int64("seed", 42, "seed for centroid initialisation")
	cmd.Flags().Bool("scale", true, "standardise columns before training")
	cmd.Flags().Int("max-label-categories", 10, "largest category count encoded as labels instead of one-hot")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func saveModel(path string, d *centroid.Detector, columns []string, sc *preprocess.StandardScaler) error {
	blob, err := d.Save()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(modelFile{Columns: columns, Scaler: sc, Detector: blob}); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func loadModel(path string, d *centroid.Detector) (*modelFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var mf modelFile
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&mf); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	if err := d.Load(mf.Detector); err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return &mf, nil
}

// score labels, scores and flags every row.
func score(d *centroid.Detector, data [][]float64) ([]gio.Result, error) {
	labels, err := d.Model().Predict(data)
	if err != nil {
		return nil, err
	}
	scores, err := d.Predict(data)
	if err != nil {
		return nil, err
	}

	flags := detectors.Flag(scores, d.Threshold())
	results := make([]gio.Result, len(data))
	for i := range data {
		results[i] = gio.Result{
			Row:       i,
			Cluster:   labels[i],
			Score:     scores[i],
			IsAnomaly: flags[i],
		}
	}
	return results, nil
}
