package cli

import (
	"github.com/spf13/cobra"

	"goldwatch/internal/app"
)

var (
	exportCSVPath   string
	exportSource    string
	exportLimit     int
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export journal samples as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			CSVPath:   exportCSVPath,
			SourceID:  exportSource,
			Limit:     exportLimit,
			MaxPoints: exportMaxPoints,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportSource, "source", "", "Only export samples of this source id")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "Newest samples to read from the journal (default 5000)")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Downsample to at most this many rows")
}
