package stats

import (
	"context"
	"regexp"
	"strings"

	"github.com/woozymasta/lmstats/internal/models"
)

// PlayerTypeNames maps lowercase raw player tokens to display names.
var PlayerTypeNames = map[string]string{
	"baby":                "Squeezebox Radio",
	"boom":                "Squeezebox Boom",
	"controller":          "Squeezebox Controller",
	"daphile":             "Daphile",
	"euphony":             "Euphony",
	"fab4":                "Squeezebox Touch",
	"http":                "HTTP",
	"ipengipad":           "iPeng iPad",
	"ipengipod":           "iPeng iPhone",
	"ipeng ipad":          "iPeng iPad",
	"ipad ipeng":          "iPeng iPad",
	"ipeng ipod":          "iPeng iPhone",
	"ipod ipeng":          "iPeng iPhone",
	"ipeng iphone":        "iPeng iPhone",
	"iphone ipeng":        "iPeng iPhone",
	"m6encore":            "M6 Encore",
	"receiver":            "Squeezebox Receiver",
	"ropieee [ropieeexl]": "Ropieee",
	"slimlibrary":         "SlimLibrary",
	"slimp3":              "SliMP3",
	"softsqueeze":         "Softsqueeze",
	"squeeze connect":     "Squeeze Connect",
	"squeezebox":          "Squeezebox 1",
	"squeezebox2":         "Squeezebox 2/3/Classic",
	"squeezebox3":         "Squeezebox 2/3/Classic",
	"squeezebox classic":  "Squeezebox 2/3/Classic",
	"squeezeesp32":        "SqueezeESP32",
	"squeezelite":         "Squeezelite",
	"squeezelite-x":       "Squeezelite-X",
	"squeezeplay":         "SqueezePlay",
	"squeezeplayer":       "SqueezePlayer",
	"squeezeslave":        "Squeezeslave",
	"transporter":         "Transporter",
}

// PlayerRule renames tokens matching Pattern. An empty Name keeps the token.
type PlayerRule struct {
	Pattern *regexp.Regexp
	Name    string
}

// PlayerRules apply in order, first match wins, to tokens without a static name.
// These names are generated on the device and cannot be listed exhaustively.
var PlayerRules = []PlayerRule{
	{regexp.MustCompile(`(?i)\bropi`), "Ropieee"},
	{regexp.MustCompile(`^Aroio`), "AroioOS"},
	{regexp.MustCompile(`^Yulong`), "Yulong"},
	{regexp.MustCompile(`(?i)^Wiim\b`), "WiiM Player"},
	{regexp.MustCompile(`^Topping`), "Topping"},
	{regexp.MustCompile(`(?i)^MusicServer4|MS4H`), "MusicServer4(Home|Loxone)"},
	{regexp.MustCompile(`RHEOS:`), "Denon RHEOS"},
	{regexp.MustCompile(`(?i)^Pure_`), "Pure"},
	{regexp.MustCompile(`^OLADRA`), "OLADRA"},
	{regexp.MustCompile(`(?i)^Antipodes`), "Antipodes"},
	{regexp.MustCompile(`Daphile`), "Daphile"},
	{regexp.MustCompile(`\bK50`), "K50player"},
	{regexp.MustCompile(`(?i)DMP-A\d+`), "Eversolo DMP-Ax"},
	{regexp.MustCompile(`(?i)piCorePlayer|pCP|SqueezeLiteBT`), "Squeezelite-pCP"},
	{regexp.MustCompile(`(?i)Squeezelite-X`), "Squeezelite-X"},
	{regexp.MustCompile(`(?i)SqueezeLite-Innuos`), ""},
	{regexp.MustCompile(`(?i)squeezeli.e|SqzLite`), "Squeezelite"},
	{regexp.MustCompile(`^$`), "Unknown"},
}

// PlayerCorrection rewrites one token of installations running OSName with Plugin enabled.
type PlayerCorrection struct {
	OSName string
	Plugin string
	From   string
	To     string
}

// InnuosCorrection: Innuos ships a rebranded squeezelite on Debian with the MQALink plugin.
var InnuosCorrection = PlayerCorrection{
	OSName: "Debian",
	Plugin: "MQALink",
	From:   "SqueezeLite",
	To:     "Squeezelite-Innuos",
}

// CanonicalPlayerType returns the display name of a raw player token.
func CanonicalPlayerType(token string) string {
	if name, ok := PlayerTypeNames[strings.ToLower(token)]; ok {
		return name
	}

	for _, rule := range PlayerRules {
		if rule.Pattern.MatchString(token) {
			if rule.Name == "" {
				return token
			}
			return rule.Name
		}
	}

	return token
}

// MergePlayerTypes canonicalizes raw token counts and sums tokens sharing a display name.
func MergePlayerTypes(raw models.ValueCounts) models.ValueCounts {
	counts := newCounter()
	for _, item := range raw {
		counts.add(CanonicalPlayerType(item.Value), item.Count)
	}

	return counts.ranked()
}

// MergedPlayerTypes counts players per canonical type. Each installation contributes
// playerModels when reported, playerTypes otherwise.
func (e *Engine) MergedPlayerTypes(ctx context.Context, q Query) (models.ValueCounts, error) {
	return withCache(ctx, e, string(DatasetMergedPlayerTypes), q, e.opts.TTL, func(ctx context.Context) (models.ValueCounts, error) {
		cond, err := BuildCondition(q.Secs, q.Filters, "")
		if err != nil {
			return nil, err
		}

		c := InnuosCorrection
		args := append([]any{
			c.OSName, "%" + c.Plugin + "%", quoteJSON(c.From), quoteJSON(c.To),
		}, cond.Args...)

		// MIN(key) picks a stable spelling among case variants.
		var rows []countRow
		err = e.store.Select(ctx, &rows, `
			SELECT MIN(t.key) AS v, CAST(SUM(t.value) AS INTEGER) AS c
			FROM (
				SELECT CASE
					WHEN data ->> '$.osname' = ? AND data ->> '$.plugins' LIKE ? THEN REPLACE(players, ?, ?)
					ELSE players
				END AS players
				FROM (
					SELECT data, COALESCE(data -> '$.playerModels', data -> '$.playerTypes') AS players
					FROM installations
					`+cond.SQL+`
				)
				WHERE players IS NOT NULL
			) AS p, json_each(p.players) AS t
			WHERE t.type = 'integer'
			GROUP BY LOWER(t.key)
			ORDER BY c DESC`, args...)
		if err != nil {
			return nil, err
		}

		return MergePlayerTypes(toValueCounts(rows)), nil
	})
}

// PlayerTypes ranks raw legacy player-type tokens.
func (e *Engine) PlayerTypes(ctx context.Context, q Query) (models.ValueCounts, error) {
	return withCache(ctx, e, string(DatasetPlayerTypes), q, e.opts.TTL, func(ctx context.Context) (models.ValueCounts, error) {
		return e.playerMap(ctx, "playerTypes", q)
	})
}

// PlayerModels ranks raw player-model tokens.
func (e *Engine) PlayerModels(ctx context.Context, q Query) (models.ValueCounts, error) {
	return withCache(ctx, e, string(DatasetPlayerModels), q, e.opts.TTL, func(ctx context.Context) (models.ValueCounts, error) {
		return e.playerMap(ctx, "playerModels", q)
	})
}

// playerMap sums a token->count map field over matching installations.
func (e *Engine) playerMap(ctx context.Context, field string, q Query) (models.ValueCounts, error) {
	cond, err := BuildCondition(q.Secs, q.Filters, "")
	if err != nil {
		return nil, err
	}

	var rows []countRow
	err = e.store.Select(ctx, &rows, `
		SELECT t.key AS v, CAST(SUM(t.value) AS INTEGER) AS c
		FROM installations, json_each(installations.data, '$.`+field+`') AS t
		`+cond.SQL+` AND t.type = 'integer'
		GROUP BY t.key
		ORDER BY c DESC`, cond.Args...)
	if err != nil {
		return nil, err
	}

	return toValueCounts(rows), nil
}

func quoteJSON(s string) string {
	return `"` + s + `"`
}
