package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/promptlift/promptlift/core"
)

// RedisCache implements Cache on top of go-redis. All keys are namespaced
// as prefix:namespace:key. Backend failures never propagate as request
// failures: reads degrade to misses, writes to no-ops, and the error rides
// along so callers can emit a degradation warning.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger core.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// RedisCacheOptions configures the Redis cache.
type RedisCacheOptions struct {
	RedisURL     string
	Prefix       string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       core.Logger
}

// NewRedisCache connects to Redis and verifies the connection before
// returning. Connection failure here is a hard error; once connected,
// later failures degrade per the cache failure policy.
func NewRedisCache(opts RedisCacheOptions) (*RedisCache, error) {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}

	if opts.RedisURL == "" {
		opts.Logger.Error("Failed to initialize Redis cache", map[string]interface{}{
			"error":      "Redis URL is required",
			"error_type": "ErrMissingConfiguration",
		})
		return nil, fmt.Errorf("redis URL is required: %w", core.ErrMissingConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		opts.Logger.Error("Failed to parse Redis URL", map[string]interface{}{
			"error":      err,
			"error_type": fmt.Sprintf("%T", err),
		})
		return nil, fmt.Errorf("invalid Redis URL: %w", core.ErrInvalidConfiguration)
	}

	if opts.PoolSize > 0 {
		redisOpt.PoolSize = opts.PoolSize
	}
	if opts.DialTimeout > 0 {
		redisOpt.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		redisOpt.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		redisOpt.WriteTimeout = opts.WriteTimeout
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		opts.Logger.Error("Failed to connect to Redis", map[string]interface{}{
			"error":      err,
			"error_type": fmt.Sprintf("%T", err),
			"prefix":     opts.Prefix,
		})
		return nil, fmt.Errorf("failed to connect to Redis: %w", core.ErrConnectionFailed)
	}

	opts.Logger.Info("Redis cache connected", map[string]interface{}{
		"prefix":    opts.Prefix,
		"pool_size": redisOpt.PoolSize,
	})

	return &RedisCache{
		client: client,
		prefix: opts.Prefix,
		logger: opts.Logger,
	}, nil
}

// formatKey builds prefix:namespace:key, skipping empty segments.
func (r *RedisCache) formatKey(namespace, key string) string {
	switch {
	case r.prefix != "" && namespace != "":
		return fmt.Sprintf("%s:%s:%s", r.prefix, namespace, key)
	case r.prefix != "":
		return fmt.Sprintf("%s:%s", r.prefix, key)
	case namespace != "":
		return fmt.Sprintf("%s:%s", namespace, key)
	default:
		return key
	}
}

// degrade records a backend failure and wraps it in the cache taxonomy.
func (r *RedisCache) degrade(ctx context.Context, op, key string, err error) error {
	r.errors.Add(1)
	r.logger.Warn("Cache operation degraded", map[string]interface{}{
		"operation": op,
		"key":       key,
		"error":     err,
	})
	return fmt.Errorf("cache %s failed: %w", op, core.ErrCacheUnavailable)
}

// Get fetches a value. Misses and backend failures both come back as
// found=false; only the latter carries an error.
func (r *RedisCache) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.formatKey(namespace, key)).Bytes()
	if err == redis.Nil {
		r.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		r.misses.Add(1)
		return nil, false, r.degrade(ctx, "get", key, err)
	}
	r.hits.Add(1)
	return data, true, nil
}

// Set stores a value with the given TTL. Zero TTL means no expiry.
func (r *RedisCache) Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.formatKey(namespace, key), data, ttl).Err(); err != nil {
		return r.degrade(ctx, "set", key, err)
	}
	return nil
}

// Delete removes keys from a namespace.
func (r *RedisCache) Delete(ctx context.Context, namespace string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	formatted := make([]string, len(keys))
	for i, key := range keys {
		formatted[i] = r.formatKey(namespace, key)
	}
	if err := r.client.Del(ctx, formatted...).Err(); err != nil {
		return r.degrade(ctx, "delete", keys[0], err)
	}
	return nil
}

// DeleteByPattern removes all keys matching the glob pattern within a
// namespace and returns how many were deleted. Uses SCAN in pages of 100
// so it never blocks the server the way KEYS would.
func (r *RedisCache) DeleteByPattern(ctx context.Context, namespace, pattern string) (int, error) {
	fullPattern := r.formatKey(namespace, pattern)

	deleted := 0
	var cursor uint64
	for {
		keys, nextCursor, err := r.client.Scan(ctx, cursor, fullPattern, 100).Result()
		if err != nil {
			return deleted, r.degrade(ctx, "scan", pattern, err)
		}

		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return deleted, r.degrade(ctx, "delete", pattern, err)
			}
			deleted += len(keys)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

// Exists reports whether a key is present.
func (r *RedisCache) Exists(ctx context.Context, namespace, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.formatKey(namespace, key)).Result()
	if err != nil {
		return false, r.degrade(ctx, "exists", key, err)
	}
	return n > 0, nil
}

// SetIfAbsent stores the value only when the key does not exist yet and
// reports whether this call won. Used for single-writer coordination.
func (r *RedisCache) SetIfAbsent(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := encodeValue(value)
	if err != nil {
		return false, err
	}
	won, err := r.client.SetNX(ctx, r.formatKey(namespace, key), data, ttl).Result()
	if err != nil {
		return false, r.degrade(ctx, "setnx", key, err)
	}
	return won, nil
}

// Increment atomically adds delta to a counter and returns the new value.
func (r *RedisCache) Increment(ctx context.Context, namespace, key string, delta int64) (int64, error) {
	val, err := r.client.IncrBy(ctx, r.formatKey(namespace, key), delta).Result()
	if err != nil {
		return 0, r.degrade(ctx, "incrby", key, err)
	}
	return val, nil
}

// GetMany fetches several keys in one round trip. The result map only
// contains keys that were present.
func (r *RedisCache) GetMany(ctx context.Context, namespace string, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	formatted := make([]string, len(keys))
	for i, key := range keys {
		formatted[i] = r.formatKey(namespace, key)
	}

	values, err := r.client.MGet(ctx, formatted...).Result()
	if err != nil {
		r.misses.Add(int64(len(keys)))
		return map[string][]byte{}, r.degrade(ctx, "mget", keys[0], err)
	}

	result := make(map[string][]byte, len(keys))
	for i, value := range values {
		if value == nil {
			r.misses.Add(1)
			continue
		}
		r.hits.Add(1)
		switch v := value.(type) {
		case string:
			result[keys[i]] = []byte(v)
		case []byte:
			result[keys[i]] = v
		}
	}
	return result, nil
}

// SetMany stores several values with a shared TTL in a single pipeline.
func (r *RedisCache) SetMany(ctx context.Context, namespace string, values map[string]interface{}, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for key, value := range values {
		data, err := encodeValue(value)
		if err != nil {
			return err
		}
		pipe.Set(ctx, r.formatKey(namespace, key), data, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return r.degrade(ctx, "pipeline-set", fmt.Sprintf("%d keys", len(values)), err)
	}
	return nil
}

// Stats returns hit/miss counters since startup.
func (r *RedisCache) Stats() Stats {
	hits := r.hits.Load()
	misses := r.misses.Load()

	stats := Stats{
		Hits:   hits,
		Misses: misses,
		Errors: r.errors.Load(),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// Ping verifies connectivity; used by health checks.
func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", core.ErrCacheUnavailable)
	}
	return nil
}

// Client exposes the underlying connection for subsystems that need raw
// pipelining (the rate limiter).
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Prefix returns the configured key prefix.
func (r *RedisCache) Prefix() string {
	return r.prefix
}

// Close shuts the connection pool down.
func (r *RedisCache) Close() error {
	r.logger.Info("Closing Redis cache", map[string]interface{}{
		"prefix": r.prefix,
	})
	return r.client.Close()
}
