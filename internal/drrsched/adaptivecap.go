package drrsched

import "sync"

// AdaptiveCap tracks a rolling window of task outcomes and derives the
// current maximum inflight task count from the recent error rate.
// Multiplicative decrease on sustained errors, additive increase otherwise —
// the same shape as TCP congestion control, applied to request concurrency
// instead of window size.
type AdaptiveCap struct {
	floor   int
	ceiling int
	window  int

	mu  sync.Mutex
	cap int
	win []bool
	pos int
	n   int // samples recorded so far, saturating at window
}

// NewAdaptiveCap returns an AdaptiveCap starting at floor, keeping the last
// window outcomes and gated on 20 samples before it reacts.
func NewAdaptiveCap(floor, ceiling, window int) *AdaptiveCap {
	return &AdaptiveCap{
		floor:   floor,
		ceiling: ceiling,
		window:  window,
		cap:     floor,
		win:     make([]bool, window),
	}
}

// Record folds a single task outcome into the window and adjusts Cap.
func (a *AdaptiveCap) Record(ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.win[a.pos] = ok
	a.pos = (a.pos + 1) % a.window
	if a.n < a.window {
		a.n++
	}
	if a.n < 20 {
		return
	}

	errs := 0
	for i := 0; i < a.n; i++ {
		if !a.win[i] {
			errs++
		}
	}
	errRate := float64(errs) / float64(a.n)
	if errRate > 0.05 {
		next := int(float64(a.cap) * 0.7)
		if next < a.floor {
			next = a.floor
		}
		a.cap = next
	} else {
		a.cap++
		if a.cap > a.ceiling {
			a.cap = a.ceiling
		}
	}
}

// Cap returns the current concurrency cap.
func (a *AdaptiveCap) Cap() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cap
}
