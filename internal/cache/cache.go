// Package cache implements the cache-aside ResultCache used to memoize
// UCS reads: 72h TTL for flight/session data, 10min for health probes,
// with a sentinel user id that always bypasses the cache.
package cache

import (
	"context"
	"time"
)

// ResultCache stores and retrieves arbitrary JSON-serializable values by
// cache key. Implementations: an in-memory map for local/dev use, and a
// Redis-backed remote store for production.
type ResultCache interface {
	// Get looks up key, unmarshaling into out if found. ok is false on a
	// miss (or on a cache-bypass key, which is never actually stored).
	Get(ctx context.Context, key string, out any) (ok bool, err error)
	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Close releases any held resources (e.g. a Redis client).
	Close() error
}

// TTLs for UCS reads and health probes.
const (
	ReadTTL   = 72 * time.Hour
	HealthTTL = 10 * time.Minute
)

// BypassUserID is the sentinel user id that disables caching entirely —
// BuildKey reports bypass=true for it and callers skip the cache.
const BypassUserID = 81464
