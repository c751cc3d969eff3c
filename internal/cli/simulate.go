package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"goldwatch/internal/app"
)

var (
	simulatePrices    []string
	simulateThreshold float64
	simulateNotify    bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "按给定价格序列模拟基线与告警流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		prices, err := parsePrices(simulatePrices)
		if err != nil {
			return err
		}

		opts := app.SimulateOptions{Prices: prices, Notify: simulateNotify}
		if cmd.Flags().Changed("threshold") {
			opts.ThresholdPct = &simulateThreshold
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func parsePrices(raw []string) ([]decimal.Decimal, error) {
	if len(raw) == 0 {
		return nil, errors.New("--prices 不能为空")
	}
	prices := make([]decimal.Decimal, 0, len(raw))
	for _, v := range raw {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", v, err)
		}
		if !d.IsPositive() {
			return nil, fmt.Errorf("price %q 必须大于 0", v)
		}
		prices = append(prices, d)
	}
	return prices, nil
}

func init() {
	simulateCmd.Flags().StringSliceVar(&simulatePrices, "prices", nil, "逗号分隔的价格序列 (元/克), 如 500,504,506")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0, "覆盖告警阈值 (%)")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "同时推送到已配置的告警通道")
}
