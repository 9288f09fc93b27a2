package drrsched

import (
	"sort"
	"sync"
)

// EWMA is an exponentially weighted moving average of service durations,
// in seconds. A nil *float64 read means no sample has landed yet.
type EWMA struct {
	alpha float64
	mu    sync.Mutex
	value *float64
}

// NewEWMA returns an EWMA with the given smoothing factor.
func NewEWMA(alpha float64) *EWMA {
	return &EWMA{alpha: alpha}
}

// Update folds x into the average and returns the new value.
func (e *EWMA) Update(x float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.value == nil {
		v := x
		e.value = &v
	} else {
		v := e.alpha*x + (1-e.alpha)*(*e.value)
		e.value = &v
	}
	return *e.value
}

// Value returns the current average, or (0, false) if no sample has landed.
func (e *EWMA) Value() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.value == nil {
		return 0, false
	}
	return *e.value, true
}

// RollingQuantile keeps the last maxLen samples and answers quantile queries
// over them. Samples are re-sorted on each query; call volume here is low
// enough (one per completed task) that this is simpler than a sorted
// structure kept incrementally.
type RollingQuantile struct {
	maxLen int
	mu     sync.Mutex
	ring   []float64
	next   int
	filled bool
}

// NewRollingQuantile returns a RollingQuantile retaining the last maxLen samples.
func NewRollingQuantile(maxLen int) *RollingQuantile {
	if maxLen <= 0 {
		maxLen = 1
	}
	return &RollingQuantile{maxLen: maxLen, ring: make([]float64, 0, maxLen)}
}

// Update records a new sample, evicting the oldest once the ring is full.
func (r *RollingQuantile) Update(x float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ring) < r.maxLen {
		r.ring = append(r.ring, x)
		return
	}
	r.ring[r.next] = x
	r.next = (r.next + 1) % r.maxLen
	r.filled = true
}

// Quantile returns the value at quantile q (0..1), or (0, false) if empty.
func (r *RollingQuantile) Quantile(q float64) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ring) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(r.ring))
	copy(sorted, r.ring)
	sort.Float64s(sorted)
	idx := int(q * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx], true
}
