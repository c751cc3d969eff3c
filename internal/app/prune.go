package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Prune deletes journal samples older than the retention window.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("--older-than 必须大于 0")
	}

	cutoff := time.Now().Add(-opts.OlderThan)
	if opts.DryRun {
		a.Logger.Warn().Time("cutoff", cutoff).Msg("prune dry-run：不会删除数据")
		fmt.Fprintf(os.Stdout, "would delete samples observed before %s\n", cutoff.Format(time.RFC3339))
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot prune")
	}
	if closeStore != nil {
		defer closeStore()
	}

	deleted, err := store.DeleteSamplesBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	a.Logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("journal pruned")
	fmt.Fprintf(os.Stdout, "deleted %d samples observed before %s\n", deleted, cutoff.Format(time.RFC3339))
	return nil
}
