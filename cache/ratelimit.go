package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/promptlift/promptlift/core"
)

// RateLimitResult describes the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Count      int64         `json:"count"`
	Limit      int           `json:"limit"`
	Remaining  int64         `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
	ResetAt    time.Time     `json:"reset_at"`
}

// RateLimiter implements fixed-window rate limiting on the Redis cache.
// One pipelined INCR+EXPIRE+TTL round trip per check; the expiry is only
// set when the counter is newly created so the window does not slide.
//
// The limiter fails open: if Redis is unreachable the request is allowed
// and the failure logged, since throttling is protection, not correctness.
type RateLimiter struct {
	cache  *RedisCache
	logger core.Logger
}

// NewRateLimiter builds a limiter on an existing Redis cache.
func NewRateLimiter(c *RedisCache, logger core.Logger) *RateLimiter {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RateLimiter{cache: c, logger: logger}
}

// Check counts a request for identifier against limit-per-window and
// reports whether it is allowed. A non-positive limit disables limiting.
func (l *RateLimiter) Check(ctx context.Context, identifier string, limit int, window time.Duration) *RateLimitResult {
	if limit <= 0 {
		return &RateLimitResult{Allowed: true, Limit: limit}
	}

	key := l.cache.formatKey(NamespaceRateLimit, identifier)

	pipe := l.cache.Client().Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.TTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("Rate limit check degraded, allowing request", map[string]interface{}{
			"identifier": identifier,
			"error":      err,
		})
		return &RateLimitResult{Allowed: true, Limit: limit}
	}

	count := incr.Val()
	ttlDuration := ttl.Val()

	resetAt := time.Now().Add(ttlDuration)
	if ttlDuration <= 0 {
		ttlDuration = window
		resetAt = time.Now().Add(window)
	}

	result := &RateLimitResult{
		Allowed: count <= int64(limit),
		Count:   count,
		Limit:   limit,
		ResetAt: resetAt,
	}
	if remaining := int64(limit) - count; remaining > 0 {
		result.Remaining = remaining
	}
	if !result.Allowed {
		result.RetryAfter = ttlDuration
	}

	return result
}

// Current returns the counter for identifier without incrementing it.
func (l *RateLimiter) Current(ctx context.Context, identifier string) (int64, error) {
	data, found, err := l.cache.Get(ctx, NamespaceRateLimit, identifier)
	if err != nil || !found {
		return 0, err
	}

	count, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, nil
	}
	return count, nil
}

// Reset clears the counter for identifier.
func (l *RateLimiter) Reset(ctx context.Context, identifier string) error {
	return l.cache.Delete(ctx, NamespaceRateLimit, identifier)
}
