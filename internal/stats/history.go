package stats

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hashicorp/go-version"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/woozymasta/lmstats/internal/models"
)

// othersKey collects versions below the floor.
const othersKey = "others"

// Span is a half-open index range [Start, End).
type Span struct {
	Start int
	End   int
}

// Buckets partitions n ordered items into at most bins contiguous spans of equal size;
// the last span absorbs the remainder. With n <= bins every item gets its own span.
func Buckets(n, bins int) []Span {
	if n <= 0 || bins <= 0 {
		return nil
	}
	if n <= bins {
		spans := make([]Span, n)
		for i := range spans {
			spans[i] = Span{Start: i, End: i + 1}
		}
		return spans
	}

	size := n / bins
	spans := make([]Span, bins)
	for i := range spans {
		spans[i] = Span{Start: i * size, End: (i + 1) * size}
	}
	spans[bins-1].End = n

	return spans
}

// LatestPerBucket returns the snapshot with the greatest date of every bucket.
func LatestPerBucket(snapshots []models.Snapshot, bins int) []models.Snapshot {
	spans := Buckets(len(snapshots), bins)
	out := make([]models.Snapshot, 0, len(spans))
	for _, span := range spans {
		latest := snapshots[span.Start]
		for _, s := range snapshots[span.Start+1 : span.End] {
			if s.Date > latest.Date {
				latest = s
			}
		}
		out = append(out, latest)
	}

	return out
}

// History returns the snapshot series reduced to chartable points.
// A version filter acts as the floor below which versions fold into "others".
func (e *Engine) History(ctx context.Context, q Query) ([]models.HistoryPoint, error) {
	return withCache(ctx, e, string(DatasetHistory), q, e.opts.TTL, func(ctx context.Context) ([]models.HistoryPoint, error) {
		snapshots, err := e.store.Snapshots(ctx, q.Secs)
		if err != nil {
			return nil, err
		}

		var floor *version.Version
		if v, ok := filterValue(q.Filters, DimensionVersion); ok {
			if floor, err = version.NewVersion(v); err != nil {
				log.Warn().Err(err).Str("version", v).Msg("Ignoring unparsable history version floor")
				floor = nil
			}
		}

		picked := LatestPerBucket(snapshots, e.opts.HistoryBins)
		points := make([]models.HistoryPoint, 0, len(picked))
		for _, s := range picked {
			point := historyPoint(s)

			folded, err := FoldVersions(point.Versions, floor)
			if err != nil {
				log.Warn().Err(err).Str("date", s.Date).Msg("Skipping malformed snapshot versions")
			} else {
				point.Versions = folded
			}

			points = append(points, point)
		}

		return points, nil
	})
}

func historyPoint(s models.Snapshot) models.HistoryPoint {
	point := models.HistoryPoint{
		Date:        s.Date,
		OS:          rawField(s.Data, "os"),
		Versions:    rawField(s.Data, "versions"),
		PlayerTypes: rawField(s.Data, "playerTypes"),
	}

	if p := gjson.GetBytes(s.Data, "players"); p.Type == gjson.Number {
		n := p.Int()
		point.Players = &n
	}

	return point
}

func rawField(data []byte, path string) json.RawMessage {
	r := gjson.GetBytes(data, path)
	if !r.Exists() {
		return nil
	}

	return json.RawMessage(r.Raw)
}

var errNotVersionList = errors.New("versions is not a list of {version: count}")

// FoldVersions sums every version below floor, and every key that is not a
// version, into a trailing {"others": n} entry. A nil floor folds only non-versions.
func FoldVersions(raw json.RawMessage, floor *version.Version) (json.RawMessage, error) {
	if raw == nil {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, errNotVersionList
	}

	list := gjson.ParseBytes(raw)
	if !list.IsArray() {
		return nil, errNotVersionList
	}

	var (
		kept   models.ValueCounts
		others int64
		bad    bool
	)
	list.ForEach(func(_, entry gjson.Result) bool {
		if !entry.IsObject() {
			bad = true
			return false
		}
		entry.ForEach(func(key, count gjson.Result) bool {
			v, err := version.NewVersion(key.String())
			if err != nil || (floor != nil && v.LessThan(floor)) {
				others += count.Int()
				return true
			}
			kept = append(kept, models.ValueCount{Value: key.String(), Count: count.Int()})
			return true
		})
		return true
	})
	if bad {
		return nil, errNotVersionList
	}

	if others > 0 {
		kept = append(kept, models.ValueCount{Value: othersKey, Count: others})
	}

	return json.Marshal(kept)
}
