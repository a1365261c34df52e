package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultMaxBytes bounds the memory cache when no limit is configured.
const DefaultMaxBytes = 64 << 20

// Memory is an in-process cache. Entries cost their payload size in bytes.
type Memory struct {
	cache *ristretto.Cache[string, []byte]
}

// NewMemory creates a memory cache holding up to maxBytes of payload.
func NewMemory(maxBytes int64) (*Memory, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	// Aggregation payloads are a few KiB, so ~1 KiB per key sizes the counters.
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxBytes/1024*10, 1000),
		MaxCost:     maxBytes,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}

	return &Memory{cache: c}, nil
}

// Get returns the payload stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.cache.Get(key)
	return v, ok, nil
}

// Put stores value for ttl. The write is visible to Get once Put returns,
// unless the admission policy rejected it.
func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.cache.SetWithTTL(key, value, int64(len(value)), ttl)
	m.cache.Wait()

	return nil
}

// Close stops the cache goroutines.
func (m *Memory) Close() error {
	m.cache.Close()
	return nil
}
