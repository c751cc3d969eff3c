package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"goldwatch/internal/config"
	"goldwatch/internal/fetcher"
	"goldwatch/internal/fxrate"
)

// Rate resolves the USD rate once and reports which tier produced it.
func (a *App) Rate(ctx context.Context) error {
	provider := a.newRateProvider(nil)
	res := provider.Resolve(ctx)
	return writeResolution(os.Stdout, res)
}

func writeResolution(out io.Writer, res fxrate.Resolution) error {
	fetched := "-"
	if !res.FetchedAt.IsZero() {
		fetched = res.FetchedAt.Format(time.RFC3339)
	}
	_, err := fmt.Fprintf(out, "rate: %s\ntier: %s\nfetched: %s\n", res.Rate.StringFixed(4), res.Tier, fetched)
	return err
}

// Sources lists configured sources; the selected one is starred.
func (a *App) Sources() error {
	return writeConfiguredSources(os.Stdout, a.Config)
}

func writeConfiguredSources(out io.Writer, cfg *config.Config) error {
	ids := cfg.SourceIDs()
	selected := cfg.Sources.Selected
	if selected == "" && len(ids) > 0 {
		selected = ids[0]
	}
	mark := func(id string) string {
		if id == selected {
			return "*"
		}
		return ""
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "\tID\tName\tKind\tEndpoint")
	for _, p := range cfg.Sources.Polling {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", mark(p.ID), p.ID, p.Name, fetcher.KindPolling, p.URL)
	}
	if s := cfg.Sources.Streaming; s.Enabled {
		endpoint := s.DiscoveryURL
		if endpoint == "" {
			endpoint = s.BackupURL
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", mark(s.ID), s.ID, s.Name, fetcher.KindStreaming, endpoint)
	}
	return writer.Flush()
}

// Latest prints the points a running monitor mirrored into Redis.
func (a *App) Latest(ctx context.Context) error {
	mirror, err := a.openMirror(ctx)
	if err != nil {
		return err
	}
	if mirror == nil {
		return errors.New("redis not configured; cannot read latest prices")
	}
	defer mirror.Close()

	points, err := mirror.GetMany(ctx, a.Config.SourceIDs())
	if err != nil {
		return err
	}

	loc, err := a.Config.Location()
	if err != nil {
		return err
	}
	return writePoints(os.Stdout, points, loc, time.Now())
}

func writePoints(out io.Writer, points []fetcher.Point, loc *time.Location, now time.Time) error {
	if len(points) == 0 {
		fmt.Fprintln(out, "no mirrored prices found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tPrice\tUnit\tAsk\tRate\tObserved\tAge")
	for _, p := range points {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.SourceID,
			formatDecimal(p.Value, 2),
			p.Unit,
			formatNullDecimal(p.Ask, 2),
			formatNullDecimal(p.Rate, 4),
			p.ObservedAt.In(loc).Format(time.DateTime),
			now.Sub(p.ObservedAt).Truncate(time.Second),
		)
	}
	return writer.Flush()
}
