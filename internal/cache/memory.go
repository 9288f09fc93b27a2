package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/flightimport/ucsbridge/internal/observability"
	"github.com/flightimport/ucsbridge/internal/telemetry"
)

// MemoryCache is a mutex-guarded in-memory ResultCache for LOCAL/dev use
// and as the CACHE_BACKEND=memory production fallback.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	sweepEvery time.Duration
	stop       chan struct{}
	stopOnce   sync.Once

	metrics *observability.Metrics
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// NewMemoryCache returns a MemoryCache that sweeps expired entries every
// sweepEvery (no sweep goroutine is started if sweepEvery <= 0). metrics
// may be nil, in which case no Prometheus collectors are updated.
func NewMemoryCache(sweepEvery time.Duration, metrics *observability.Metrics) *MemoryCache {
	c := &MemoryCache{
		entries:    make(map[string]memoryEntry),
		sweepEvery: sweepEvery,
		stop:       make(chan struct{}),
		metrics:    metrics,
	}
	if sweepEvery > 0 {
		go c.sweepLoop()
	}
	return c
}

func (c *MemoryCache) sweepLoop() {
	t := time.NewTicker(c.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.sweep()
		}
	}
}

func (c *MemoryCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
}

// Get implements ResultCache.
func (c *MemoryCache) Get(ctx context.Context, key string, out any) (bool, error) {
	_, span := telemetry.StartSpan(ctx, "cache.get")
	defer span.End()

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		c.recordMiss()
		return false, nil
	}
	if time.Now().After(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.recordMiss()
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(e.data, out); err != nil {
			telemetry.RecordError(span, err)
			return false, err
		}
	}
	c.recordHit()
	return true, nil
}

// Set implements ResultCache.
func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	_, span := telemetry.StartSpan(ctx, "cache.set")
	defer span.End()

	data, err := json.Marshal(value)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{data: data, expires: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) recordHit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *MemoryCache) recordMiss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Close stops the sweep goroutine, if any.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}
