package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"goldwatch/internal/storage"
)

// Show prints recent journal samples, or recent alerts with opts.Alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	opts.Limit = a.Config.ResolveLimit(opts.Limit)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show journal")
	}
	if closeStore != nil {
		defer closeStore()
	}

	loc, err := a.Config.Location()
	if err != nil {
		return err
	}

	if opts.Alerts {
		alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeAlerts(os.Stdout, alerts, loc)
	}

	samples, err := store.ListRecentSamples(ctx, opts.SourceID, opts.Limit)
	if err != nil {
		return err
	}
	return writeSamples(os.Stdout, samples, loc)
}

func writeSamples(out io.Writer, samples []storage.PriceSample, loc *time.Location) error {
	if len(samples) == 0 {
		fmt.Fprintln(out, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time\tSource\tPrice\tAsk\tRate\tStatus\tError")

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = sanitizeInline(*sample.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sample.ObservedAt.In(loc).Format(time.DateTime),
			sample.SourceID,
			formatNullDecimal(sample.Price, 2),
			formatNullDecimal(sample.Ask, 2),
			formatNullDecimal(sample.Rate, 4),
			sample.Status,
			errMsg,
		)
	}

	return writer.Flush()
}

func writeAlerts(out io.Writer, alerts []storage.AlertRecord, loc *time.Location) error {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time\tSource\tDirection\tPrice\tReference\tChange%\tThreshold%")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.RaisedAt.In(loc).Format(time.DateTime),
			alert.SourceID,
			alert.Direction,
			formatDecimal(alert.Price, 2),
			formatDecimal(alert.Reference, 2),
			formatDecimal(alert.ChangePct, 2),
			formatDecimal(alert.ThresholdPct, 2),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatNullDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return formatDecimal(d.Decimal, places)
}
