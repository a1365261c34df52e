package stats

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/lmstats/internal/models"
)

// pluginNoiseFloor hides plugins installed on this many installations or fewer.
const pluginNoiseFloor = 5

// opPluginsFast keys the side table read in the cache.
const opPluginsFast = "pluginsFast"

// Plugins ranks plugins by the number of installations using them.
// With q.Fast the precomputed census is returned and filters and window are ignored.
func (e *Engine) Plugins(ctx context.Context, q Query) (models.ValueCounts, error) {
	if q.Fast {
		return withCache(ctx, e, opPluginsFast, Query{}, e.opts.TTL, e.pluginCensus)
	}

	return withCache(ctx, e, string(DatasetPlugins), q, e.opts.PluginsTTL, func(ctx context.Context) (models.ValueCounts, error) {
		return e.scanPlugins(ctx, q)
	})
}

func (e *Engine) scanPlugins(ctx context.Context, q Query) (models.ValueCounts, error) {
	cond, err := BuildCondition(q.Secs, q.Filters, "")
	if err != nil {
		return nil, err
	}

	var rows []countRow
	err = e.store.Select(ctx, &rows, `
		SELECT t.value AS v, COUNT(DISTINCT installations.id) AS c
		FROM installations, json_each(installations.data, '$.plugins') AS t
		`+cond.SQL+`
		GROUP BY t.value
		HAVING c > ?
		ORDER BY c DESC`, append(cond.Args, pluginNoiseFloor)...)
	if err != nil {
		return nil, err
	}

	return toValueCounts(rows), nil
}

func (e *Engine) pluginCensus(ctx context.Context) (models.ValueCounts, error) {
	counts, err := e.store.PluginCounts(ctx, pluginNoiseFloor)
	if err != nil {
		return nil, err
	}

	out := make(models.ValueCounts, len(counts))
	for i, c := range counts {
		out[i] = models.ValueCount{Value: c.Name, Count: c.Count}
	}

	return out, nil
}

// RefreshPluginCounts rebuilds the plugin census from all installations of the
// active window and returns the number of plugins stored. The cached fast path
// is overwritten with the new census.
func (e *Engine) RefreshPluginCounts(ctx context.Context) (int, error) {
	start := time.Now()

	var counts []models.PluginCount
	err := e.store.Select(ctx, &counts, `
		SELECT t.value AS name, COUNT(DISTINCT installations.id) AS count
		FROM installations, json_each(installations.data, '$.plugins') AS t
		WHERE unixepoch('now') - unixepoch(lastseen) < ?
		GROUP BY t.value`, e.ActiveSecs())
	if err == nil {
		err = e.store.ReplacePluginCounts(ctx, counts)
	}
	e.recorder.Computation("refreshPlugins", time.Since(start), err)
	if err != nil {
		return 0, err
	}

	log.Info().
		Int("plugins", len(counts)).
		Dur("took", time.Since(start)).
		Msg("Plugin census refreshed")

	if !e.opts.DisableCache {
		census, err := e.pluginCensus(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read refreshed plugin census")
		} else {
			e.remember(ctx, CacheKey(opPluginsFast, Query{}), census, e.opts.TTL)
		}
	}

	return len(counts), nil
}
