package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Lookup is the outcome of reading a cache entry.
// Every outcome except LookupHit means "recompute".
type Lookup int

// Lookup outcomes.
const (
	LookupMiss Lookup = iota
	LookupHit
	LookupCorrupt
)

func (l Lookup) String() string {
	switch l {
	case LookupHit:
		return "hit"
	case LookupCorrupt:
		return "corrupt"
	default:
		return "miss"
	}
}

// CacheKey derives the cache key of op for q:
// op, window, sorted dimension names and sorted values joined with "-".
func CacheKey(op string, q Query) string {
	dims := make([]string, len(q.Filters))
	values := make([]string, len(q.Filters))
	for i, f := range q.Filters {
		dims[i] = string(f.Dimension)
		values[i] = f.Value
	}
	sort.Strings(dims)
	sort.Strings(values)

	return strings.Join([]string{
		op,
		strconv.FormatInt(q.Secs, 10),
		strings.Join(dims, ":"),
		strings.Join(values, ":"),
	}, "-")
}

// lookup reads key into dest. Backend errors and bad payloads are logged and folded into a miss.
func (e *Engine) lookup(ctx context.Context, key string, dest any) Lookup {
	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Query cache read failed")
		return LookupMiss
	}
	if !ok {
		return LookupMiss
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to parse query cache entry")
		return LookupCorrupt
	}

	return LookupHit
}

// remember writes value under key. Failures are logged only.
func (e *Engine) remember(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to encode query cache entry")
		return
	}

	if err := e.cache.Put(ctx, key, raw, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Query cache write failed")
	}
}

// withCache returns the cached result of op for q or computes and stores it.
// Store failures are logged with detail and surface as ErrComputationFailed.
func withCache[T any](
	ctx context.Context,
	e *Engine,
	op string,
	q Query,
	ttl time.Duration,
	compute func(context.Context) (T, error),
) (T, error) {
	key := CacheKey(op, q)

	if !e.opts.DisableCache {
		var cached T
		result := e.lookup(ctx, key, &cached)
		e.recorder.CacheLookup(op, result.String())
		if result == LookupHit {
			return cached, nil
		}
	}

	start := time.Now()
	value, err := compute(ctx)
	e.recorder.Computation(op, time.Since(start), err)
	if errors.Is(err, ErrInvalidFilter) {
		var zero T
		return zero, err
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("op", op).
			Int64("secs", q.Secs).
			Int("filters", len(q.Filters)).
			Msg("Aggregation failed")

		var zero T
		return zero, fmt.Errorf("%w: %s", ErrComputationFailed, op)
	}

	if !e.opts.DisableCache {
		e.remember(ctx, key, value, ttl)
	}

	return value, nil
}
