// Package maintenance runs one-shot database tasks requested on the command line.
package maintenance

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/lmstats/internal/config"
	"github.com/woozymasta/lmstats/internal/jobs"
)

// Run executes the maintenance tasks selected in cfg: cleanup, then plugin
// refresh, then snapshot, so a snapshot sees the other results.
// It reports whether any task ran, meaning the program should exit.
func Run(ctx context.Context, cfg *config.Config, tasks jobs.Tasks) (bool, error) {
	var (
		ran  bool
		errs []error
	)

	if cfg.Storage.Cleanup {
		ran = true
		log.Info().Dur("retention", cfg.Stats.Retention).Msg("Removing stale installations...")
		if n, err := tasks.Cleanup(ctx); err != nil {
			errs = append(errs, err)
		} else {
			log.Info().Int64("deleted", n).Msg("Cleanup finished")
		}
	}

	if cfg.Storage.RefreshPlugins {
		ran = true
		log.Info().Msg("Rebuilding plugin census...")
		if n, err := tasks.RefreshPluginCounts(ctx); err != nil {
			errs = append(errs, err)
		} else {
			log.Info().Int("plugins", n).Msg("Plugin census finished")
		}
	}

	if cfg.Storage.Snapshot {
		ran = true
		log.Info().Msg("Writing snapshot...")
		if date, err := tasks.WriteSnapshot(ctx); err != nil {
			errs = append(errs, err)
		} else {
			log.Info().Str("date", date).Msg("Snapshot finished")
		}
	}

	return ran, errors.Join(errs...)
}
