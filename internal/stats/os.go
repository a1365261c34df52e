package stats

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/woozymasta/lmstats/internal/models"
)

// OSInfo is the self-reported platform description of an installation.
type OSInfo struct {
	OSName   sql.NullString `db:"osname"`
	Revision sql.NullString `db:"revision"`
	Platform sql.NullString `db:"platform"`
}

// OSRule maps matching OS descriptions to a display bucket.
type OSRule struct {
	Name     string
	Match    func(OSInfo) bool
	Classify func(OSInfo) string
}

var archRevision = like("ARCH%")

// OSRules are evaluated in order, first match wins. Changing the order
// shifts historical chart categories.
var OSRules = []OSRule{
	{
		Name: "arch",
		Match: func(i OSInfo) bool {
			return i.OSName.String == "Linux" && archRevision.MatchString(i.Revision.String)
		},
		Classify: fixed("Arch Linux"),
	},
	{Name: "windows-64", Match: osNameLike("%windows%", "%64-bit%"), Classify: fixed("Windows (64-bit)")},
	{Name: "windows-32", Match: osNameLike("%windows%"), Classify: fixed("Windows (32-bit)")},
	{Name: "debian-docker", Match: osNameLike("%Debian%Docker%"), Classify: fixed("Debian (Docker)")},
	{
		Name:  "qnap",
		Match: osNameLike("QLMS %"),
		Classify: func(i OSInfo) string {
			name := strings.ReplaceAll(i.OSName.String, " 9 stretch", "")
			return strings.ReplaceAll(name, " (QNAP TurboStation)", "")
		},
	},
	{Name: "macos", Match: osNameLike("%macos%"), Classify: fixed("macOS")},
	{Name: "osx", Match: osNameLike("%os x 1%"), Classify: fixed("macOS")},
	{Name: "hallaudio", Match: osNameLike("%HALLAUDIO%"), Classify: fixed("HALLAUDIO")},
	{Name: "polyos", Match: osNameLike("%polyOS%"), Classify: fixed("polyOS")},
}

// ClassifyOS returns the display bucket of i; ok is false when the OS is unknown.
func ClassifyOS(i OSInfo) (string, bool) {
	if !i.OSName.Valid {
		return "", false
	}

	for _, rule := range OSRules {
		if rule.Match(i) {
			return rule.Classify(i), true
		}
	}

	return i.OSName.String, true
}

// CleanPlatform drops the "-linux" noise from platform triples.
func CleanPlatform(platform string) string {
	return strings.ReplaceAll(platform, "-linux", "")
}

// OS ranks "{os} - {platform}" buckets.
func (e *Engine) OS(ctx context.Context, q Query) (models.ValueCounts, error) {
	return withCache(ctx, e, string(DatasetOS), q, e.opts.TTL, func(ctx context.Context) (models.ValueCounts, error) {
		cond, err := BuildCondition(q.Secs, q.Filters, "")
		if err != nil {
			return nil, err
		}

		var rows []struct {
			OSInfo
			C int64 `db:"c"`
		}
		err = e.store.Select(ctx, &rows, `
			SELECT data ->> '$.osname' AS osname,
			       data ->> '$.revision' AS revision,
			       data ->> '$.platform' AS platform,
			       COUNT(1) AS c
			FROM installations
			`+cond.SQL+`
			GROUP BY 1, 2, 3`, cond.Args...)
		if err != nil {
			return nil, err
		}

		counts := newCounter()
		for _, row := range rows {
			os, ok := ClassifyOS(row.OSInfo)
			if !ok {
				continue
			}

			// A missing platform nulls the whole label, as in historical data.
			key := nullValue
			if row.Platform.Valid {
				key = os + " - " + CleanPlatform(row.Platform.String)
			}
			counts.add(key, row.C)
		}

		return counts.ranked(), nil
	})
}

func fixed(name string) func(OSInfo) string {
	return func(OSInfo) string { return name }
}

// osNameLike matches when the OS name matches all SQL LIKE patterns.
func osNameLike(patterns ...string) func(OSInfo) bool {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = like(p)
	}

	return func(i OSInfo) bool {
		for _, re := range res {
			if !re.MatchString(i.OSName.String) {
				return false
			}
		}
		return true
	}
}

// like compiles a case-insensitive SQL LIKE pattern (% and _ wildcards).
func like(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")

	return regexp.MustCompile(sb.String())
}
