package cli

import (
	"github.com/spf13/cobra"
)

var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Resolve the USD exchange rate and show which tier served it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Rate(cmd.Context())
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured price sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sources()
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the latest prices mirrored by a running monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Latest(cmd.Context())
	},
}
