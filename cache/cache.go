// Package cache provides the namespaced caching layer for the enhancement
// pipeline. The Redis implementation backs production deployments; the
// in-memory implementation serves tests and cache-less setups. Both share
// the same failure policy: the cache is an accelerator, never a dependency,
// so backend trouble degrades to misses instead of failing requests.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Standard namespaces. Keys are built as prefix:namespace:key so the
// subsystems never collide even on a shared Redis.
const (
	NamespaceEnhancement = "enhancement"
	NamespaceIntent      = "intent"
	NamespaceSession     = "session"
	NamespaceResponse    = "response"
	NamespaceRateLimit   = "ratelimit"
	NamespaceHealth      = "health"
)

// Cache is the namespaced key-value store used across the pipeline.
//
// Get reports a miss as (nil, false, nil). A non-nil error signals backend
// trouble; the value contract still holds (miss / no-op), so callers may
// proceed and surface the error as a degradation warning.
type Cache interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, namespace string, keys ...string) error
	DeleteByPattern(ctx context.Context, namespace, pattern string) (int, error)
	Exists(ctx context.Context, namespace, key string) (bool, error)
	SetIfAbsent(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) (bool, error)
	Increment(ctx context.Context, namespace, key string, delta int64) (int64, error)
	GetMany(ctx context.Context, namespace string, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, namespace string, values map[string]interface{}, ttl time.Duration) error
	Stats() Stats
	Close() error
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// encodeValue converts a value to the stored byte form. Strings and byte
// slices pass through untouched; everything else is JSON.
func encodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode cache value: %w", err)
		}
		return data, nil
	}
}

// SetJSON stores v as JSON under namespace/key.
func SetJSON(ctx context.Context, c Cache, namespace, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	return c.Set(ctx, namespace, key, data, ttl)
}

// GetJSON fetches namespace/key and unmarshals it into out. Returns false
// on miss; decode failures count as misses since stale shapes are useless.
func GetJSON(ctx context.Context, c Cache, namespace, key string, out interface{}) (bool, error) {
	data, found, err := c.Get(ctx, namespace, key)
	if err != nil || !found {
		return false, err
	}
	if jsonErr := json.Unmarshal(data, out); jsonErr != nil {
		return false, nil
	}
	return true, nil
}
