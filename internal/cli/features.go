package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/goguard/pkg/io/pcap"
	"github.com/hed1ad/goguard/pkg/matrix"
)

func newFeaturesCmd(a *app) *cobra.Command {
	var (
		input, output, filter string
		maxPackets            int
	)

	cmd := &cobra.Command{
		Use:   "features",
		Short: "Export per-packet features from a capture file as CSV",
		Long: "Reads a pcap file and writes one row of numeric features per packet.\n" +
			"Features a packet does not carry (ports of ICMP, TCP flags of UDP) are\n" +
			"left empty so that impute can fill them.",
		Example: "  goguard features -i capture.pcap --filter 'tcp or udp' -o packets.csv",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := pcap.NewFileReader(input, pcap.WithMaxPackets(maxPackets))
			if err != nil {
				return err
			}
			defer r.Close()

			if filter != "" {
				if err := r.SetFilter(filter); err != nil {
					return err
				}
			}

			data, err := r.Read()
			if err != nil {
				return err
			}
			stats := r.Stats()
			a.metrics.RowsProcessed.WithLabelValues("features").Add(float64(len(data)))
			a.logger.Info("features extracted",
				zap.String("input", input),
				zap.Int("packets", stats.Packets),
				zap.Int("skipped", stats.Skipped),
				zap.Int("rows", len(data)),
				zap.Int("missing_cells", matrix.CountMissing(data)),
			)

			w, err := a.openOutput(output)
			if err != nil {
				return err
			}
			if err := w.WriteMatrix(r.FeatureNames(), data); err != nil {
				w.Close()
				return err
			}
			return w.Close()
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "pcap file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output CSV file (default stdout)")
	cmd.Flags().StringVar(&filter, "filter", "", "BPF filter applied before extraction")
	cmd.Flags().IntVar(&maxPackets, "max-packets", 0, "stop after this many packets (0 reads the whole file)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}
