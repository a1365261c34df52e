package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces query cache keys in a shared Redis.
const KeyPrefix = "lmstats:qc:"

// RedisOptions selects the Redis server.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a cache shared between server instances.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return &Redis{client: client}, nil
}

// Get returns the payload stored under key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return v, true, nil
}

// Put stores value for ttl.
func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, KeyPrefix+key, value, ttl).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
