package drrsched

import "context"

// Task is a unit of scheduled work. It runs on the scheduler's dispatch
// goroutine pool and reports its outcome via the returned error: a non-nil
// error is recorded as a failed task for AdaptiveCap purposes.
type Task func(ctx context.Context) error

// workItem pairs a task with the handle used to deliver its result.
type workItem struct {
	task Task
	done chan error
}

// CompletionHandle is returned by Enqueue so callers can wait for a
// specific task's outcome without blocking the dispatch loop.
type CompletionHandle struct {
	done chan error
}

// Wait blocks until the task completes or ctx is cancelled.
func (h *CompletionHandle) Wait(ctx context.Context) error {
	select {
	case err := <-h.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
