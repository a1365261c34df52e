package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/lmstats/internal/stats"
)

func TestBuildCondition(t *testing.T) {
	tests := []struct {
		name    string
		secs    int64
		filters []stats.Filter
		notNull string
		sql     string
		args    []any
	}{
		{
			name: "window only",
			secs: 86400,
			sql:  "WHERE unixepoch('now') - unixepoch(lastseen) < ?",
			args: []any{int64(86400)},
		},
		{
			name: "no window binds tautology",
			secs: 0,
			sql:  "WHERE 1 > ?",
			args: []any{int64(0)},
		},
		{
			name: "filters keep caller order",
			secs: 0,
			filters: []stats.Filter{
				{Dimension: stats.DimensionVersion, Value: "8.5.2"},
				{Dimension: stats.DimensionCountry, Value: "DE"},
			},
			sql:  "WHERE 1 > ? AND json_extract(data, '$.version') = ? AND json_extract(data, '$.country') = ?",
			args: []any{int64(0), "8.5.2", "DE"},
		},
		{
			name:    "not null field",
			secs:    3600,
			notNull: "language",
			sql:     "WHERE unixepoch('now') - unixepoch(lastseen) < ? AND json_extract(data, '$.language') IS NOT NULL",
			args:    []any{int64(3600)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := stats.BuildCondition(tt.secs, tt.filters, tt.notNull)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, cond.SQL)
			assert.Equal(t, tt.args, cond.Args)
		})
	}
}

func TestBuildConditionRejectsUnknownDimension(t *testing.T) {
	_, err := stats.BuildCondition(0, []stats.Filter{{Dimension: "data') OR 1=1 --", Value: "x"}}, "")
	require.ErrorIs(t, err, stats.ErrInvalidFilter)
}

func TestCacheKeyIgnoresFilterOrder(t *testing.T) {
	a := stats.Query{Secs: 60, Filters: []stats.Filter{
		{Dimension: stats.DimensionOS, Value: "linux"},
		{Dimension: stats.DimensionCountry, Value: "DE"},
	}}
	b := stats.Query{Secs: 60, Filters: []stats.Filter{
		{Dimension: stats.DimensionCountry, Value: "DE"},
		{Dimension: stats.DimensionOS, Value: "linux"},
	}}

	assert.Equal(t, stats.CacheKey("versions", a), stats.CacheKey("versions", b))
	assert.Equal(t, "versions-60-country:os-DE:linux", stats.CacheKey("versions", a))
	assert.Equal(t, "os-0--", stats.CacheKey("os", stats.Query{}))
	assert.NotEqual(t, stats.CacheKey("os", a), stats.CacheKey("versions", a))
}
