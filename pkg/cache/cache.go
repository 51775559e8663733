// Package cache defines a common interface for the external key-value stores
// that can hold encoded geocoding results, with memcached, Redis and no-op
// implementations.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// Cache defines an interface for an external store that holds the encoded
// results for subsequent lookup requests.
type Cache interface {
	// Return the string that was set for key (or "" if unset) and an Error
	// if the implementation failed.
	// NOTE: a cache miss *should not* return an error.
	GetValue(ctx context.Context, key string) (string, error)
	// Store the value string with the provided key, returning an error if
	// the implementation failed.
	SetValue(ctx context.Context, key string, value string) error
	// Remove every entry from the store, not only those written through this
	// interface.
	Flush(ctx context.Context) error
}

// NoopCache implements Cache interface without any real cacheing.
type NoopCache struct{}

// Always returns an empty string and no error for every key.
func (n *NoopCache) GetValue(ctx context.Context, key string) (string, error) {
	return "", nil
}

// Ignores the value and returns nil error.
func (n *NoopCache) SetValue(ctx context.Context, key string, value string) error {
	return nil
}

// Nothing to remove; returns nil error.
func (n *NoopCache) Flush(ctx context.Context) error {
	return nil
}

// Creates a no-operation Cache implementation that satisfies the interface
// requirements without performing any real caching. All values are silently
// dropped by SetValue and calls to GetValue always return an empty string.
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

// RedisCache implements Cache interface backed by a Redis store.
type RedisCache struct {
	*redis.Pool
	// Applied to every SetValue; zero means the entry never expires.
	expiration time.Duration
}

type RedisCacheOption func(*RedisCache)

// Expire entries written by SetValue after d. A value of zero, the default,
// keeps entries until they are flushed or evicted.
func WithRedisExpiration(d time.Duration) RedisCacheOption {
	return func(r *RedisCache) {
		if d > 0 {
			r.expiration = d
		}
	}
}

// Return a new Cache implementation using Redis
func NewRedisCache(ctx context.Context, endpoint string, options ...RedisCacheOption) *RedisCache {
	cache := &RedisCache{
		Pool: &redis.Pool{
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialContext(ctx, "tcp", endpoint)
			},
		},
	}
	for _, option := range options {
		option(cache)
	}
	return cache
}

// Returns the string value stored in Redis under key, if present, or an empty string.
func (r *RedisCache) GetValue(ctx context.Context, key string) (string, error) {
	conn, err := r.GetContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()

	value, err := redis.String(conn.Do("GET", key))
	if err == redis.ErrNil {
		// A cache miss is *NOT* an error to propagate
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis GET %s failed: %w", key, err)
	}
	return value, nil
}

// Store the string key:value pair in Redis.
func (r *RedisCache) SetValue(ctx context.Context, key string, value string) error {
	conn, err := r.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()
	args := redis.Args{}.Add(key, value)
	switch {
	case r.expiration <= 0:
	case r.expiration%time.Second == 0:
		args = args.Add("EX", int64(r.expiration/time.Second))
	default:
		args = args.Add("PX", max(r.expiration.Milliseconds(), 1))
	}
	if _, err = conn.Do("SET", args...); err != nil {
		return fmt.Errorf("redis SET %s failed: %w", key, err)
	}
	return nil
}

// Remove every key from every database of the Redis server.
func (r *RedisCache) Flush(ctx context.Context) error {
	conn, err := r.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer conn.Close()
	if _, err = conn.Do("FLUSHALL"); err != nil {
		return fmt.Errorf("redis FLUSHALL failed: %w", err)
	}
	return nil
}
