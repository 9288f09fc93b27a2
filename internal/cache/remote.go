package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/flightimport/ucsbridge/internal/observability"
	"github.com/flightimport/ucsbridge/internal/telemetry"
)

// RemoteCache is a Redis-backed ResultCache. Values are msgpack-encoded
// then lz4-compressed before storage — the Go equivalent of the
// original's aiocache + lz4.frame + pickle stack.
type RemoteCache struct {
	rdb     *redis.Client
	metrics *observability.Metrics
}

// NewRemoteCache returns a RemoteCache connected to host:port. metrics
// may be nil, in which case no Prometheus collectors are updated.
func NewRemoteCache(host string, port int, metrics *observability.Metrics) *RemoteCache {
	return &RemoteCache{
		rdb: redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", host, port),
		}),
		metrics: metrics,
	}
}

// Get implements ResultCache.
func (c *RemoteCache) Get(ctx context.Context, key string, out any) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "cache.get")
	defer span.End()

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.recordMiss()
		return false, nil
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}

	decompressed, err := lz4Decompress(raw)
	if err != nil {
		err = fmt.Errorf("lz4 decompress: %w", err)
		telemetry.RecordError(span, err)
		return false, err
	}

	var intermediate any
	if err := msgpack.Unmarshal(decompressed, &intermediate); err != nil {
		err = fmt.Errorf("msgpack unmarshal: %w", err)
		telemetry.RecordError(span, err)
		return false, err
	}
	if out == nil {
		c.recordHit()
		return true, nil
	}

	// Round-trip through JSON to land the msgpack-decoded value into the
	// caller's concrete type without hand-rolling a converter.
	jsonBytes, err := json.Marshal(intermediate)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	if err := json.Unmarshal(jsonBytes, out); err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	c.recordHit()
	return true, nil
}

// Set implements ResultCache.
func (c *RemoteCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, span := telemetry.StartSpan(ctx, "cache.set")
	defer span.End()

	encoded, err := msgpack.Marshal(value)
	if err != nil {
		err = fmt.Errorf("msgpack marshal: %w", err)
		telemetry.RecordError(span, err)
		return err
	}
	compressed, err := lz4Compress(encoded)
	if err != nil {
		err = fmt.Errorf("lz4 compress: %w", err)
		telemetry.RecordError(span, err)
		return err
	}
	if err := c.rdb.Set(ctx, key, compressed, ttl).Err(); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

func (c *RemoteCache) recordHit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *RemoteCache) recordMiss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Close implements ResultCache.
func (c *RemoteCache) Close() error {
	return c.rdb.Close()
}

func lz4Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}
