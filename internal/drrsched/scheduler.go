// Package drrsched implements a Deficit Round-Robin scheduler with an
// adaptive concurrency cap: per-user FIFO queues are drained fairly in
// proportion to configured weights, while the number of tasks allowed to
// run concurrently is derived from a rolling error-rate window.
package drrsched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flightimport/ucsbridge/internal/observability"
	"github.com/flightimport/ucsbridge/internal/telemetry"
)

// userQueue holds one user's pending tasks plus their DRR bookkeeping.
type userQueue struct {
	items   []*workItem
	weight  int
	deficit int
}

// Scheduler is a single-dispatch-loop DRR scheduler. All queue/rotor/deficit
// mutation happens under mu from either Enqueue or the dispatch loop itself —
// there is exactly one logical critical section, matching the original's
// single asyncio.Lock design.
type Scheduler struct {
	logger  *slog.Logger
	cap     *AdaptiveCap
	metrics *observability.Metrics

	quantum int

	mu           sync.Mutex
	queues       map[string]*userQueue
	activeUsers  []string
	inflight     int
	dispatchIdle time.Duration

	sMean  *EWMA
	qStats *RollingQuantile

	startOnce sync.Once
}

// New returns a Scheduler bound to the given adaptive cap. metrics may be
// nil, in which case no Prometheus collectors are updated.
func New(cap *AdaptiveCap, quantileDepth int, dispatchIdle time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:       logger.With("component", "drrsched"),
		cap:          cap,
		metrics:      metrics,
		quantum:      1,
		queues:       make(map[string]*userQueue),
		dispatchIdle: dispatchIdle,
		sMean:        NewEWMA(0.2),
		qStats:       NewRollingQuantile(quantileDepth),
	}
}

// Enqueue adds a task to user's queue with the given weight and returns a
// handle the caller can Wait on for the task's outcome. Weight applies to
// all of that user's queued and future work until changed by a later call.
func (s *Scheduler) Enqueue(userID string, weight int, task Task) *CompletionHandle {
	if weight <= 0 {
		weight = 1
	}
	done := make(chan error, 1)
	item := &workItem{task: task, done: done}

	s.mu.Lock()
	uq, ok := s.queues[userID]
	if !ok {
		uq = &userQueue{weight: weight}
		s.queues[userID] = uq
	}
	uq.weight = weight
	wasEmpty := len(uq.items) == 0
	uq.items = append(uq.items, item)
	if wasEmpty {
		s.activeUsers = append(s.activeUsers, userID)
	}
	s.mu.Unlock()

	return &CompletionHandle{done: done}
}

// popNext runs one DRR step: the head user of the active-user ring is
// credited quantum*weight once its deficit is spent, one item is popped
// from its queue, and the user stays at the head while deficit remains, so
// a weight-w user is served w items per round. A user whose deficit is
// spent moves to the back; one whose queue empties leaves the ring with
// its deficit reset to zero.
func (s *Scheduler) popNext() (string, *workItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.activeUsers)
	for i := 0; i < n; i++ {
		uid := s.activeUsers[0]
		uq := s.queues[uid]
		if uq == nil || len(uq.items) == 0 {
			s.activeUsers = s.activeUsers[1:]
			n = len(s.activeUsers)
			continue
		}

		if uq.deficit <= 0 {
			uq.deficit += s.quantum * uq.weight
		}
		if uq.deficit <= 0 {
			s.rotate()
			continue
		}

		item := uq.items[0]
		uq.items = uq.items[1:]
		uq.deficit -= 1

		if len(uq.items) == 0 {
			s.activeUsers = s.activeUsers[1:]
			uq.deficit = 0
		} else if uq.deficit <= 0 {
			s.rotate()
		}
		return uid, item
	}
	return "", nil
}

// rotate moves the front of the active-user ring to the back.
func (s *Scheduler) rotate() {
	if len(s.activeUsers) == 0 {
		return
	}
	front := s.activeUsers[0]
	s.activeUsers = append(s.activeUsers[1:], front)
}

// Run starts the dispatch loop and blocks until ctx is cancelled. It should
// be run in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("dispatch loop starting")
	defer s.logger.Info("dispatch loop stopped")

	idle := s.dispatchIdle
	if idle <= 0 {
		idle = 10 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		currentCap := s.cap.Cap()
		canLaunch := currentCap - s.inflight
		s.mu.Unlock()
		s.reportGauges(currentCap)
		if canLaunch <= 0 {
			if !sleepCtx(ctx, idle) {
				return
			}
			continue
		}

		uid, item := s.popNext()
		if item == nil {
			if !sleepCtx(ctx, idle) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.inflight++
		s.mu.Unlock()

		go s.dispatch(ctx, uid, item)
	}
}

// dispatch runs a single task to completion and folds its outcome back
// into the service-time metrics and the adaptive cap.
func (s *Scheduler) dispatch(ctx context.Context, uid string, item *workItem) {
	ctx, span := telemetry.StartSpan(ctx, "drr.dispatch")
	defer span.End()

	started := time.Now()
	err := item.task(ctx)
	elapsed := time.Since(started).Seconds()

	ok := err == nil
	outcome := "success"
	if !ok {
		outcome = "error"
		s.logger.Error("task failed", "user", uid, "error", err)
		telemetry.RecordError(span, err)
	}

	s.sMean.Update(elapsed)
	s.qStats.Update(elapsed)
	s.cap.Record(ok)

	if s.metrics != nil {
		s.metrics.SchedulerTasksDispatch.WithLabelValues(outcome).Inc()
	}

	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()

	item.done <- err
}

// reportGauges mirrors the scheduler's current load into the inflight,
// cap, and active-user Prometheus gauges. A no-op if metrics is nil.
func (s *Scheduler) reportGauges(currentCap int) {
	if s.metrics == nil {
		return
	}
	s.mu.Lock()
	inflight := s.inflight
	s.mu.Unlock()
	s.metrics.SchedulerInflight.Set(float64(inflight))
	s.metrics.SchedulerCap.Set(float64(currentCap))
	s.metrics.SchedulerActiveUsers.Set(float64(s.ActiveUserCount()))
}

// GlobalLoad reports current inflight task count and the adaptive cap.
func (s *Scheduler) GlobalLoad() (inflight, cap int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight, s.cap.Cap()
}

// ActiveUserCount reports the number of users with queued work, or 1 when
// no work is queued but tasks are still inflight.
func (s *Scheduler) ActiveUserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, uq := range s.queues {
		if len(uq.items) > 0 {
			n++
		}
	}
	if s.inflight > 0 && n == 0 {
		n++
	}
	return n
}

// ServiceTimes reports the EWMA mean, p50, and p90 service durations in
// seconds. Any value may be absent (ok=false) if no task has completed yet.
func (s *Scheduler) ServiceTimes() (mean float64, meanOK bool, p50 float64, p50OK bool, p90 float64, p90OK bool) {
	mean, meanOK = s.sMean.Value()
	p50, p50OK = s.qStats.Quantile(0.5)
	p90, p90OK = s.qStats.Quantile(0.9)
	return
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
