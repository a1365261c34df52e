package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/lmstats/internal/cache"
	"github.com/woozymasta/lmstats/internal/config"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	c, err := cache.NewMemory(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, ok, err := c.Get(ctx, "versions-0--")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "versions-0--", []byte(`[{"8.5.2":1}]`), time.Hour))

	got, ok, err := c.Get(ctx, "versions-0--")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[{"8.5.2":1}]`, string(got))
}

func TestMemoryExpires(t *testing.T) {
	ctx := context.Background()
	c, err := cache.NewMemory(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Put(ctx, "os-0--", []byte(`[]`), 20*time.Millisecond))

	require.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "os-0--")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	c, err := cache.NewRedis(ctx, cache.RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, ok, err := c.Get(ctx, "plugins-0--")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "plugins-0--", []byte(`[{"Spotty":6}]`), 20*time.Hour))
	assert.True(t, mr.Exists(cache.KeyPrefix+"plugins-0--"))
	assert.Equal(t, 20*time.Hour, mr.TTL(cache.KeyPrefix+"plugins-0--"))

	got, ok, err := c.Get(ctx, "plugins-0--")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[{"Spotty":6}]`, string(got))

	mr.FastForward(21 * time.Hour)

	_, ok, err = c.Get(ctx, "plugins-0--")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.NewRedis(context.Background(), cache.RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	mr.Close()

	_, ok, err := c.Get(context.Background(), "versions-0--")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	mem, err := cache.New(ctx, config.Cache{Backend: config.CacheMemory, MaxBytes: 1 << 20})
	require.NoError(t, err)
	assert.IsType(t, &cache.Memory{}, mem)
	_ = mem.Close()

	none, err := cache.New(ctx, config.Cache{Backend: config.CacheNone})
	require.NoError(t, err)
	require.NoError(t, none.Put(ctx, "k", []byte("v"), time.Hour))
	_, ok, err := none.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	mr := miniredis.RunT(t)
	rc, err := cache.New(ctx, config.Cache{Backend: config.CacheRedis, RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &cache.Redis{}, rc)
	_ = rc.Close()

	_, err = cache.New(ctx, config.Cache{Backend: "memcached"})
	assert.Error(t, err)
}
