package cli

import (
	"github.com/spf13/cobra"

	"goldwatch/internal/app"
)

var runInteractive bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the price monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RunOptions{}
		if cmd.Flags().Changed("interactive") {
			opts.Interactive = &runInteractive
		}
		return getApp().Run(cmd.Context(), opts)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runInteractive, "interactive", false, "Read source switch commands from stdin (default: when stdin is a terminal)")
}
