package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/lmstats/internal/models"
	"golang.org/x/sync/errgroup"
)

// DateLayout is the snapshot date format.
const DateLayout = "2006-01-02"

// Snapshot computes the aggregates of the active window.
func (e *Engine) Snapshot(ctx context.Context) (*models.SnapshotData, error) {
	q := Query{Secs: e.ActiveSecs()}
	data := &models.SnapshotData{}

	g, ctx := errgroup.WithContext(ctx)
	collect(ctx, g, q, e.Players, &data.ConnectedPlayers)
	collect(ctx, g, q, e.Countries, &data.Countries)
	collect(ctx, g, q, e.OS, &data.OS)
	collect(ctx, g, q, e.PlayerCount, &data.Players)
	collect(ctx, g, q, e.MergedPlayerTypes, &data.PlayerTypes)
	collect(ctx, g, q, e.PlayerModels, &data.PlayerModels)
	collect(ctx, g, q, e.Plugins, &data.Plugins)
	collect(ctx, g, q, e.TrackCounts, &data.Tracks)
	collect(ctx, g, q, e.Versions, &data.Versions)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return data, nil
}

// WriteSnapshot stores today's (UTC) snapshot, replacing one written earlier the same day.
func (e *Engine) WriteSnapshot(ctx context.Context) (string, error) {
	start := time.Now()
	date := e.now().UTC().Format(DateLayout)

	data, err := e.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("compute snapshot: %w", err)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	err = e.store.UpsertSnapshot(ctx, date, raw)
	e.recorder.Computation("snapshot", time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("store snapshot %s: %w", date, err)
	}

	log.Info().
		Str("date", date).
		Int64("players", data.Players).
		Dur("took", time.Since(start)).
		Msg("Snapshot written")

	return date, nil
}

// Cleanup deletes installations not seen within the retention period.
func (e *Engine) Cleanup(ctx context.Context) (int64, error) {
	start := time.Now()

	n, err := e.store.DeleteStaleInstallations(ctx, e.opts.Retention)
	e.recorder.Computation("cleanup", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("delete stale installations: %w", err)
	}

	log.Info().
		Int64("deleted", n).
		Dur("retention", e.opts.Retention).
		Msg("Stale installations removed")

	return n, nil
}

// collect runs op in g and stores its result in dest.
func collect[T any](ctx context.Context, g *errgroup.Group, q Query, op func(context.Context, Query) (T, error), dest *T) {
	g.Go(func() error {
		v, err := op(ctx, q)
		if err != nil {
			return err
		}
		*dest = v
		return nil
	})
}
