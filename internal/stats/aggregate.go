package stats

import (
	"context"
	"database/sql"

	"github.com/woozymasta/lmstats/internal/models"
)

// nullValue is how a missing category is rendered; historical snapshots carry it.
const nullValue = "null"

// countRow is the generic (value, count) result row.
type countRow struct {
	V sql.NullString `db:"v"`
	C int64          `db:"c"`
}

func toValueCounts(rows []countRow) models.ValueCounts {
	out := make(models.ValueCounts, len(rows))
	for i, r := range rows {
		v := nullValue
		if r.V.Valid {
			v = r.V.String
		}
		out[i] = models.ValueCount{Value: v, Count: r.C}
	}

	return out
}

// aggregation describes one "group by field, count, rank" query.
type aggregation struct {
	// field is the document path used for the value and the not-null filter.
	field string

	// expr overrides the extracted expression (e.g. a substring of the field).
	expr string

	// castToString groups by the text form so 1 and 1.0 share a bucket.
	castToString bool

	// notNull drops installations without the field.
	notNull bool
}

func (a aggregation) valueExpr() string {
	expr := a.expr
	if expr == "" {
		expr = "json_extract(data, '$." + a.field + "')"
	}
	if a.castToString {
		expr = "CAST(" + expr + " AS TEXT)"
	}

	return expr
}

// aggregate groups matching installations by the aggregation's value and ranks by count.
// Order among equal counts is unspecified.
func (e *Engine) aggregate(ctx context.Context, a aggregation, q Query) (models.ValueCounts, error) {
	notNull := ""
	if a.notNull {
		notNull = a.field
	}

	cond, err := BuildCondition(q.Secs, q.Filters, notNull)
	if err != nil {
		return nil, err
	}

	expr := a.valueExpr()
	query := `
		SELECT ` + expr + ` AS v, COUNT(1) AS c
		FROM installations
		` + cond.SQL + `
		GROUP BY ` + expr + `
		ORDER BY c DESC`

	var rows []countRow
	if err := e.store.Select(ctx, &rows, query, cond.Args...); err != nil {
		return nil, err
	}

	return toValueCounts(rows), nil
}

func (e *Engine) scalar(ctx context.Context, expr string, q Query) (int64, error) {
	cond, err := BuildCondition(q.Secs, q.Filters, "")
	if err != nil {
		return 0, err
	}

	var n int64
	query := `SELECT CAST(COALESCE(` + expr + `, 0) AS INTEGER) FROM installations ` + cond.SQL
	if err := e.store.Get(ctx, &n, query, cond.Args...); err != nil {
		return 0, err
	}

	return n, nil
}

// Versions ranks software versions.
func (e *Engine) Versions(ctx context.Context, q Query) (models.ValueCounts, error) {
	return withCache(ctx, e, string(DatasetVersions), q, e.opts.TTL, func(ctx context.Context) (models.ValueCounts, error) {
		return e.aggregate(ctx, aggregation{field: "version"}, q)
	})
}

// Countries ranks country codes.
func (e *Engine) Countries(ctx context.Context, q Query) (models.ValueCounts, error) {
	return withCache(ctx, e, string(DatasetCountries), q, e.opts.TTL, func(ctx context.Context) (models.ValueCounts, error) {
		return e.aggregate(ctx, aggregation{field: "country"}, q)
	})
}

// Languages ranks UI languages of installations that report one.
func (e *Engine) Languages(ctx context.Context, q Query) (models.ValueCounts, error) {
	return withCache(ctx, e, string(DatasetLanguage), q, e.opts.TTL, func(ctx context.Context) (models.ValueCounts, error) {
		return e.aggregate(ctx, aggregation{field: "language", notNull: true}, q)
	})
}

// Players ranks the number of connected players per installation.
func (e *Engine) Players(ctx context.Context, q Query) (models.ValueCounts, error) {
	return withCache(ctx, e, string(DatasetPlayers), q, e.opts.TTL, func(ctx context.Context) (models.ValueCounts, error) {
		return e.aggregate(ctx, aggregation{field: "players", castToString: true}, q)
	})
}

// PerlVersions ranks the interpreter major line ("5.36"), not the full version.
func (e *Engine) PerlVersions(ctx context.Context, q Query) (models.ValueCounts, error) {
	return withCache(ctx, e, string(DatasetPerl), q, e.opts.TTL, func(ctx context.Context) (models.ValueCounts, error) {
		return e.aggregate(ctx, aggregation{
			field: "perl",
			expr:  "substr(json_extract(data, '$.perl'), 0, 5)",
		}, q)
	})
}

// InstallationCount counts matching installations.
func (e *Engine) InstallationCount(ctx context.Context, q Query) (int64, error) {
	return withCache(ctx, e, string(DatasetServers), q, e.opts.TTL, func(ctx context.Context) (int64, error) {
		return e.scalar(ctx, "COUNT(1)", q)
	})
}

// PlayerCount sums connected players over matching installations.
func (e *Engine) PlayerCount(ctx context.Context, q Query) (int64, error) {
	return withCache(ctx, e, string(DatasetPlayerCount), q, e.opts.TTL, func(ctx context.Context) (int64, error) {
		return e.scalar(ctx, "SUM(json_extract(data, '$.players'))", q)
	})
}
