package stats_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/woozymasta/lmstats/internal/models"
	"github.com/woozymasta/lmstats/internal/stats"
	"github.com/woozymasta/lmstats/internal/storage"
)

func newStore(t *testing.T) *storage.Repository {
	t.Helper()

	store, err := storage.New(context.Background(), filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

// seed stores an installation last seen age ago.
func seed(t *testing.T, store *storage.Repository, id string, age time.Duration, data models.InstallationData) {
	t.Helper()

	seen := time.Now().Add(-age)
	require.NoError(t, store.UpsertInstallation(context.Background(), models.Installation{
		ID:       id,
		Created:  seen,
		LastSeen: seen,
		Data:     data,
	}))
}

// mapCache is an in-memory stats.Cache that ignores TTLs.
type mapCache struct {
	entries map[string][]byte
	getErr  error
	mu      sync.Mutex
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *mapCache) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = value
	return nil
}

func (c *mapCache) set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = value
}

func (c *mapCache) get(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries[key]
}

// lookupRecorder collects cache lookup results per operation.
type lookupRecorder struct {
	lookups []string
	failed  int
	mu      sync.Mutex
}

func (r *lookupRecorder) CacheLookup(op, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lookups = append(r.lookups, op+":"+result)
}

func (r *lookupRecorder) Computation(_ string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.failed++
	}
}

var errCacheDown = errors.New("cache down")

// uncached builds an engine that always reads the store.
func uncached(store stats.Store, opts ...stats.Option) *stats.Engine {
	return stats.New(store, nil, stats.Options{}, opts...)
}
