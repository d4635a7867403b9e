package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	_, c := setupRedisCache(t)
	limiter := NewRateLimiter(c, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		result := limiter.Check(ctx, "user-1", 3, time.Minute)
		assert.True(t, result.Allowed, "request %d should be allowed", i)
		assert.Equal(t, int64(i), result.Count)
		assert.Equal(t, int64(3-i), result.Remaining)
	}

	result := limiter.Check(ctx, "user-1", 3, time.Minute)
	assert.False(t, result.Allowed, "request over the limit should be denied")
	assert.Equal(t, int64(4), result.Count)
	assert.Equal(t, int64(0), result.Remaining)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
}

func TestRateLimiterIsolatesIdentifiers(t *testing.T) {
	_, c := setupRedisCache(t)
	limiter := NewRateLimiter(c, nil)
	ctx := context.Background()

	limiter.Check(ctx, "user-a", 1, time.Minute)
	result := limiter.Check(ctx, "user-a", 1, time.Minute)
	assert.False(t, result.Allowed)

	result = limiter.Check(ctx, "user-b", 1, time.Minute)
	assert.True(t, result.Allowed, "another identifier has its own window")
}

func TestRateLimiterWindowReset(t *testing.T) {
	mr, c := setupRedisCache(t)
	limiter := NewRateLimiter(c, nil)
	ctx := context.Background()

	limiter.Check(ctx, "user-1", 1, time.Second)
	result := limiter.Check(ctx, "user-1", 1, time.Second)
	require.False(t, result.Allowed)

	mr.FastForward(2 * time.Second)

	result = limiter.Check(ctx, "user-1", 1, time.Second)
	assert.True(t, result.Allowed, "window elapsed, counter should restart")
	assert.Equal(t, int64(1), result.Count)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	mr, c := setupRedisCache(t)
	limiter := NewRateLimiter(c, nil)
	ctx := context.Background()

	mr.Close()

	result := limiter.Check(ctx, "user-1", 1, time.Minute)
	assert.True(t, result.Allowed, "backend failure must not block requests")
}

func TestRateLimiterDisabledByZeroLimit(t *testing.T) {
	_, c := setupRedisCache(t)
	limiter := NewRateLimiter(c, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		result := limiter.Check(ctx, "user-1", 0, time.Minute)
		assert.True(t, result.Allowed)
	}
}

func TestRateLimiterReset(t *testing.T) {
	_, c := setupRedisCache(t)
	limiter := NewRateLimiter(c, nil)
	ctx := context.Background()

	limiter.Check(ctx, "user-1", 1, time.Minute)
	result := limiter.Check(ctx, "user-1", 1, time.Minute)
	require.False(t, result.Allowed)

	require.NoError(t, limiter.Reset(ctx, "user-1"))

	result = limiter.Check(ctx, "user-1", 1, time.Minute)
	assert.True(t, result.Allowed)

	count, err := limiter.Current(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
