// Package dfsupload gates concurrent uploads to the downstream
// flight-logging service behind a fixed-capacity semaphore, and defines
// the out-of-scope uploader contract that consumes it.
package dfsupload

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
)

// Gate limits how many uploads run concurrently, instrumented with
// acquire/release wait-time logging the way the original's
// MetricSemaphore records wait_ms/use_ms around asyncio.Semaphore.
type Gate struct {
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewGate returns a Gate allowing up to capacity concurrent uploads.
func NewGate(capacity int64, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		sem:    semaphore.NewWeighted(capacity),
		logger: logger.With("component", "dfs_gate"),
	}
}

// Release is returned by Acquire to hand the slot back.
type Release func()

// Acquire blocks until a slot is free or ctx is cancelled, logging how
// long the caller waited.
func (g *Gate) Acquire(ctx context.Context) (Release, error) {
	started := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	waited := time.Since(started)
	g.logger.Debug("upload slot acquired", "waited", waited)

	acquiredAt := time.Now()
	return func() {
		g.sem.Release(1)
		g.logger.Debug("upload slot released", "held", time.Since(acquiredAt))
	}, nil
}
