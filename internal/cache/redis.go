package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the cache with a shared Redis instance so multiple service
// processes see the same schema and query-result entries. TTL expiry and
// capacity eviction are delegated to Redis itself; CleanupExpired is a no-op.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	maxPayload int

	mu            sync.Mutex
	hits          int64
	misses        int64
	invalidations int64
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, host, port, password string, db int, timeout time.Duration, prefix string, maxPayload int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		Password:    password,
		DB:          db,
		DialTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if maxPayload <= 0 {
		maxPayload = 10 * 1024 * 1024
	}
	return &RedisStore{client: client, prefix: prefix, maxPayload: maxPayload}, nil
}

func (r *RedisStore) key(k string) string { return r.prefix + ":" + k }

// Get fetches the payload for key; redis-side TTL makes expired reads misses.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		r.count(&r.misses)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	r.count(&r.hits)
	return val, true, nil
}

// Set stores the payload with a native TTL. Oversized payloads are refused.
func (r *RedisStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if len(payload) > r.maxPayload {
		return ErrPayloadTooLarge
	}
	if err := r.client.Set(ctx, r.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate removes key if present.
func (r *RedisStore) Invalidate(ctx context.Context, key string) error {
	n, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	r.countN(&r.invalidations, n)
	return nil
}

// InvalidateAll removes every key under this store's prefix.
func (r *RedisStore) InvalidateAll(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		r.count(&r.invalidations)
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// CleanupExpired is handled by Redis natively.
func (r *RedisStore) CleanupExpired(context.Context) (int, error) { return 0, nil }

// Stats reports client-side hit/miss counters; entry counts live in Redis.
func (r *RedisStore) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Hits: r.hits, Misses: r.misses, Invalidations: r.invalidations}
}

func (r *RedisStore) count(field *int64) { r.countN(field, 1) }

func (r *RedisStore) countN(field *int64, n int64) {
	r.mu.Lock()
	*field += n
	r.mu.Unlock()
}
