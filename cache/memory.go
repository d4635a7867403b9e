package cache

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// MemoryCache is a TTL map implementing Cache for tests and deployments
// that run without Redis. A background janitor sweeps expired entries;
// when full, the entry closest to expiry is evicted.
type MemoryCache struct {
	mu        sync.RWMutex
	entries   map[string]*memoryEntry
	maxSize   int
	hits      int64
	misses    int64
	evictions int64

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryCache creates a cache with room for 10000 entries and a
// five-minute sweep interval.
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithOptions(10000, 5*time.Minute)
}

// NewMemoryCacheWithOptions creates a cache with custom capacity and
// janitor interval.
func NewMemoryCacheWithOptions(maxSize int, cleanupInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries:     make(map[string]*memoryEntry),
		maxSize:     maxSize,
		stopCleanup: make(chan struct{}),
	}

	go c.cleanupRoutine(cleanupInterval)

	return c
}

func (c *MemoryCache) key(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}

func (c *MemoryCache) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.entries[c.key(namespace, key)]
	if !found || entry.expired(time.Now()) {
		c.misses++
		return nil, false, nil
	}

	c.hits++
	return entry.data, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictExpiredLocked()
		if len(c.entries) >= c.maxSize {
			c.evictOldestLocked()
		}
	}

	c.entries[c.key(namespace, key)] = newEntry(data, ttl)
	return nil
}

func newEntry(data []byte, ttl time.Duration) *memoryEntry {
	entry := &memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	return entry
}

func (c *MemoryCache) Delete(ctx context.Context, namespace string, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.entries, c.key(namespace, key))
	}
	return nil
}

func (c *MemoryCache) DeleteByPattern(ctx context.Context, namespace, pattern string) (int, error) {
	fullPattern := c.key(namespace, pattern)

	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	for key := range c.entries {
		if matched, _ := path.Match(fullPattern, key); matched {
			delete(c.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

func (c *MemoryCache) Exists(ctx context.Context, namespace, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.entries[c.key(namespace, key)]
	return found && !entry.expired(time.Now()), nil
}

func (c *MemoryCache) SetIfAbsent(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := encodeValue(value)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.key(namespace, key)
	if entry, found := c.entries[k]; found && !entry.expired(time.Now()) {
		return false, nil
	}

	c.entries[k] = newEntry(data, ttl)
	return true, nil
}

func (c *MemoryCache) Increment(ctx context.Context, namespace, key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.key(namespace, key)
	var current int64
	var expiresAt time.Time

	if entry, found := c.entries[k]; found && !entry.expired(time.Now()) {
		current, _ = strconv.ParseInt(string(entry.data), 10, 64)
		expiresAt = entry.expiresAt
	}

	current += delta
	c.entries[k] = &memoryEntry{
		data:      []byte(strconv.FormatInt(current, 10)),
		expiresAt: expiresAt,
	}
	return current, nil
}

func (c *MemoryCache) GetMany(ctx context.Context, namespace string, keys []string) (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		entry, found := c.entries[c.key(namespace, key)]
		if !found || entry.expired(now) {
			c.misses++
			continue
		}
		c.hits++
		result[key] = entry.data
	}
	return result, nil
}

func (c *MemoryCache) SetMany(ctx context.Context, namespace string, values map[string]interface{}, ttl time.Duration) error {
	for key, value := range values {
		if err := c.Set(ctx, namespace, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (c *MemoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		Hits:   c.hits,
		Misses: c.misses,
		Size:   len(c.entries),
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Close stops the janitor. Safe to call more than once.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
	return nil
}

func (c *MemoryCache) cleanupRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpiredLocked()
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *MemoryCache) evictExpiredLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			c.evictions++
		}
	}
}

func (c *MemoryCache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		at := entry.expiresAt
		if at.IsZero() {
			continue
		}
		if oldestTime.IsZero() || at.Before(oldestTime) {
			oldestKey = key
			oldestTime = at
		}
	}

	// All entries persistent: drop an arbitrary one to make room.
	if oldestKey == "" {
		for key := range c.entries {
			oldestKey = key
			break
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}
