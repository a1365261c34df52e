package stats

import (
	"context"
	"sort"
)

// Dataset names one public aggregation.
type Dataset string

// Datasets served by Engine.Dataset. The names are part of the public API.
const (
	DatasetCountries         Dataset = "countries"
	DatasetHistory           Dataset = "history"
	DatasetLanguage          Dataset = "language"
	DatasetMergedPlayerTypes Dataset = "mergedPlayerTypes"
	DatasetOS                Dataset = "os"
	DatasetPerl              Dataset = "perl"
	DatasetPlayers           Dataset = "players"
	DatasetPlayerCount       Dataset = "playerCount"
	DatasetPlayerModels      Dataset = "playerModels"
	DatasetPlayerTypes       Dataset = "playerTypes"
	DatasetPlugins           Dataset = "plugins"
	DatasetServers           Dataset = "serverCount"
	DatasetTrackCounts       Dataset = "trackCounts"
	DatasetVersions          Dataset = "versions"
)

type datasetFunc func(context.Context, Query) (any, error)

// adapt erases the result type of an engine operation.
func adapt[T any](fn func(context.Context, Query) (T, error)) datasetFunc {
	return func(ctx context.Context, q Query) (any, error) {
		return fn(ctx, q)
	}
}

func (e *Engine) buildDatasets() map[Dataset]datasetFunc {
	return map[Dataset]datasetFunc{
		DatasetCountries:         adapt(e.Countries),
		DatasetHistory:           adapt(e.History),
		DatasetLanguage:          adapt(e.Languages),
		DatasetMergedPlayerTypes: adapt(e.MergedPlayerTypes),
		DatasetOS:                adapt(e.OS),
		DatasetPerl:              adapt(e.PerlVersions),
		DatasetPlayers:           adapt(e.Players),
		DatasetPlayerCount:       adapt(e.PlayerCount),
		DatasetPlayerModels:      adapt(e.PlayerModels),
		DatasetPlayerTypes:       adapt(e.PlayerTypes),
		DatasetPlugins:           adapt(e.Plugins),
		DatasetServers:           adapt(e.InstallationCount),
		DatasetTrackCounts:       adapt(e.TrackCounts),
		DatasetVersions:          adapt(e.Versions),
	}
}

// Dataset runs the operation registered under name.
func (e *Engine) Dataset(ctx context.Context, name string, q Query) (any, error) {
	fn, ok := e.datasets[Dataset(name)]
	if !ok {
		return nil, &UnknownDatasetError{Name: name}
	}

	return fn(ctx, q)
}

// Datasets lists the registered dataset names in lexical order.
func (e *Engine) Datasets() []string {
	names := make([]string, 0, len(e.datasets))
	for name := range e.datasets {
		names = append(names, string(name))
	}
	sort.Strings(names)

	return names
}
