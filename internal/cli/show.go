package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"goldwatch/internal/app"
)

var (
	showLimit  int
	showSource string
	showAlerts bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent journal samples or alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			SourceID: showSource,
			Alerts:   showAlerts,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 0, "Number of rows to display (defaults to config)")
	showCmd.Flags().StringVar(&showSource, "source", "", "Only show samples of this source id")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show raised alerts instead of samples")
}
