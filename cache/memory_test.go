package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryCache(t *testing.T) *MemoryCache {
	t.Helper()
	c := NewMemoryCacheWithOptions(100, time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCacheSetGet(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, NamespaceIntent, "k", "v", time.Minute))

	data, found, err := c.Get(ctx, NamespaceIntent, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), data)

	_, found, err = c.Get(ctx, NamespaceIntent, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, NamespaceIntent, "short", "v", 10*time.Millisecond))

	time.Sleep(20 * time.Millisecond)

	_, found, _ := c.Get(ctx, NamespaceIntent, "short")
	assert.False(t, found, "entry should expire")

	// Zero TTL means the entry never expires.
	require.NoError(t, c.Set(ctx, NamespaceIntent, "forever", "v", 0))
	time.Sleep(20 * time.Millisecond)
	_, found, _ = c.Get(ctx, NamespaceIntent, "forever")
	assert.True(t, found)
}

func TestMemoryCacheNamespaceIsolation(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, NamespaceIntent, "k", "intent", 0))
	require.NoError(t, c.Set(ctx, NamespaceSession, "k", "session", 0))

	data, _, _ := c.Get(ctx, NamespaceIntent, "k")
	assert.Equal(t, []byte("intent"), data)
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, NamespaceEnhancement, "enhance:v2:a", "1", 0))
	require.NoError(t, c.Set(ctx, NamespaceEnhancement, "enhance:v2:b", "2", 0))
	require.NoError(t, c.Set(ctx, NamespaceEnhancement, "keep", "3", 0))

	deleted, err := c.DeleteByPattern(ctx, NamespaceEnhancement, "enhance:v2:*")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, found, _ := c.Get(ctx, NamespaceEnhancement, "keep")
	assert.True(t, found)
}

func TestMemoryCacheSetIfAbsentSingleWinner(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			won, err := c.SetIfAbsent(ctx, NamespaceHealth, "leader", fmt.Sprintf("worker-%d", n), time.Minute)
			if err == nil && won {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(), "exactly one concurrent SetIfAbsent should win")
}

func TestMemoryCacheIncrement(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()

	n, err := c.Increment(ctx, NamespaceRateLimit, "u", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Increment(ctx, NamespaceRateLimit, "u", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMemoryCacheEviction(t *testing.T) {
	c := NewMemoryCacheWithOptions(3, time.Minute)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("k%d", i)
		ttl := time.Duration(i+1) * time.Minute
		require.NoError(t, c.Set(ctx, NamespaceIntent, key, "v", ttl))
	}

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Size, 3, "cache must not exceed capacity")

	// k0 had the nearest expiry, so it was the eviction victim.
	_, found, _ := c.Get(ctx, NamespaceIntent, "k0")
	assert.False(t, found)
}

func TestMemoryCacheGetManySetMany(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetMany(ctx, NamespaceIntent, map[string]interface{}{
		"a": "1",
		"b": "2",
	}, time.Minute))

	got, err := c.GetMany(ctx, NamespaceIntent, []string{"a", "b", "nope"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("1"), got["a"])
}

func TestMemoryCacheStats(t *testing.T) {
	c := newTestMemoryCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, NamespaceIntent, "k", "v", 0))
	c.Get(ctx, NamespaceIntent, "k")
	c.Get(ctx, NamespaceIntent, "gone")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestMemoryCacheCloseIdempotent(t *testing.T) {
	c := NewMemoryCache()
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
