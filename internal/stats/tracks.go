package stats

import (
	"context"
	"strconv"
	"strings"

	"github.com/woozymasta/lmstats/internal/models"
)

// TrackBuckets are the lower bounds of the library size buckets, largest first.
// Counts below the last bound (and unknown counts) fall into bucket 0.
var TrackBuckets = []int64{1000000, 500000, 100000, 50000, 20000, 10000, 5000, 1000, 500, 1}

// trackBucketExpr renders TrackBuckets as a CASE over column tc.
func trackBucketExpr() string {
	var sb strings.Builder
	sb.WriteString("CASE")
	for _, bound := range TrackBuckets {
		b := strconv.FormatInt(bound, 10)
		sb.WriteString(" WHEN tc >= " + b + " THEN " + b)
	}
	sb.WriteString(" ELSE 0 END")

	return sb.String()
}

// TrackCounts counts installations per library size bucket, smallest bucket first.
func (e *Engine) TrackCounts(ctx context.Context, q Query) (models.ValueCounts, error) {
	return withCache(ctx, e, string(DatasetTrackCounts), q, e.opts.TTL, func(ctx context.Context) (models.ValueCounts, error) {
		cond, err := BuildCondition(q.Secs, q.Filters, "")
		if err != nil {
			return nil, err
		}

		var rows []countRow
		err = e.store.Select(ctx, &rows, `
			SELECT v, COUNT(1) AS c FROM (
				SELECT `+trackBucketExpr()+` AS v
				FROM (
					SELECT CAST(json_extract(data, '$.tracks') AS INTEGER) AS tc
					FROM installations
					`+cond.SQL+`
				)
			)
			GROUP BY v
			ORDER BY v`, cond.Args...)
		if err != nil {
			return nil, err
		}

		return toValueCounts(rows), nil
	})
}
