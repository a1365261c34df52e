// Package cache provides the query cache backends: in-process memory, Redis and none.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/woozymasta/lmstats/internal/config"
)

// Cache stores opaque payloads with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// New builds the backend selected in cfg.
func New(ctx context.Context, cfg config.Cache) (Cache, error) {
	switch cfg.Backend {
	case config.CacheMemory, "":
		return NewMemory(cfg.MaxBytes)
	case config.CacheRedis:
		return NewRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case config.CacheNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Nop never stores anything; every Get is a miss.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Nop) Put(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Close() error                                             { return nil }
