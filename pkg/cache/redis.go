package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a shared Redis instance. Values are JSON
// encoded; expiry is enforced natively by Redis TTLs, so stale entries
// never survive a restart of this process.
//
// All keys live under a prefix so Clear and Stats only touch this store's
// keyspace. The Redis client is owned by the caller; Destroy clears the
// keyspace but leaves the connection open.
type Redis[V any] struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedis creates a Redis-backed store scoped to the given key prefix.
func NewRedis[V any](client *redis.Client, prefix string, defaultTTL time.Duration) *Redis[V] {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Redis[V]{
		client:     client,
		prefix:     prefix,
		defaultTTL: defaultTTL,
	}
}

func (r *Redis[V]) redisKey(key string) string {
	return r.prefix + key
}

// Get retrieves a value. Returns (zero, false, nil) on miss.
func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(layerRedis).Inc()
			return zero, false, nil
		}
		CacheErrors.WithLabelValues("get").Inc()
		return zero, false, fmt.Errorf("redis get: %w", err)
	}

	var value V
	if err := json.Unmarshal(data, &value); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return zero, false, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.WithLabelValues(layerRedis).Inc()
	return value, true, nil
}

// Set stores a value with the given TTL. TTL <= 0 means "do not cache".
func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := r.client.Set(ctx, r.redisKey(key), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Has reports whether an entry exists for key. Redis evicts expired keys
// itself, so existence implies freshness.
func (r *Redis[V]) Has(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.redisKey(key)).Result()
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Delete removes an entry. Idempotent.
func (r *Redis[V]) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear removes all entries under this store's prefix.
func (r *Redis[V]) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			return fmt.Errorf("redis del %q: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// Stats counts the entries under this store's prefix.
func (r *Redis[V]) Stats(ctx context.Context) (Stats, error) {
	size := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("redis scan: %w", err)
	}

	return Stats{
		Size:       size,
		DefaultTTL: r.defaultTTL,
	}, nil
}

// Destroy clears this store's keyspace. Safe to call multiple times.
func (r *Redis[V]) Destroy(ctx context.Context) error {
	return r.Clear(ctx)
}

var (
	_ Store[any]    = (*Redis[any])(nil)
	_ StatsProvider = (*Redis[any])(nil)
	_ Destroyer     = (*Redis[any])(nil)
)
