// Package statusstore implements an in-memory, TTL-bounded key/value
// store for upload status and result, the Go shape of the original's
// two redis_client.set(..., ex=300) calls in misc.py.
package statusstore

import (
	"sync"
	"time"
)

const fieldTTL = 5 * time.Minute

type entry struct {
	value   string
	expires time.Time
}

// Store holds per-flight status/result fields, each independently
// TTL-bounded. A background goroutine sweeps expired fields so memory
// does not grow unbounded across a long-running process.
type Store struct {
	mu     sync.Mutex
	status map[int]entry
	result map[int]entry

	stop     chan struct{}
	stopOnce sync.Once
}

// New returns a Store with a sweep goroutine running every sweepEvery.
func New(sweepEvery time.Duration) *Store {
	s := &Store{
		status: make(map[int]entry),
		result: make(map[int]entry),
		stop:   make(chan struct{}),
	}
	if sweepEvery > 0 {
		go s.sweepLoop(sweepEvery)
	}
	return s
}

func (s *Store) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.status {
		if now.After(e.expires) {
			delete(s.status, k)
		}
	}
	for k, e := range s.result {
		if now.After(e.expires) {
			delete(s.result, k)
		}
	}
}

// SetStatus records status for flightID, expiring after 5 minutes.
func (s *Store) SetStatus(flightID int, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[flightID] = entry{value: status, expires: time.Now().Add(fieldTTL)}
}

// SetResult records result for flightID, expiring after 5 minutes.
func (s *Store) SetResult(flightID int, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result[flightID] = entry{value: result, expires: time.Now().Add(fieldTTL)}
}

// Status is the combined view returned for a flight: either field may be
// empty if unset or expired.
type Status struct {
	Status string
	Result string
}

// Get returns the current status/result for flightID. A flight with no
// recorded result returns a zero-value Status, matching the original's
// {'status': None, 'result': ''} shape when no result has ever landed.
func (s *Store) Get(flightID int) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out Status
	if e, ok := s.result[flightID]; ok && now.Before(e.expires) {
		out.Result = e.value
	}
	if e, ok := s.status[flightID]; ok && now.Before(e.expires) {
		out.Status = e.value
	}
	return out
}

// Close stops the sweep goroutine.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}
