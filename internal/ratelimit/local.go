package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepInterval is how often expired windows are swept from the local
// store. Sweeping is lazy, piggybacked on Check calls, so the store needs
// no background goroutine.
const sweepInterval = 60 * time.Second

type localWindow struct {
	count   int
	resetAt time.Time
}

// LocalStore is the in-process fallback: a fixed-window counter per key.
// It is an explicit, injectable object (not ambient global state) so the
// fallback path is testable in isolation.
type LocalStore struct {
	mu        sync.Mutex
	windows   map[string]*localWindow
	lastSweep time.Time

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewLocalStore creates an empty local store.
func NewLocalStore() *LocalStore {
	return &LocalStore{
		windows: make(map[string]*localWindow),
		now:     time.Now,
	}
}

// Check consumes one unit for key in the current fixed window.
// Never returns an error.
func (s *LocalStore) Check(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeSweep(now)

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &localWindow{resetAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   w.count <= limit,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}, nil
}

// maybeSweep drops expired windows to bound memory. Caller holds mu.
func (s *LocalStore) maybeSweep(now time.Time) {
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for key, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, key)
		}
	}
}

// Len reports the number of tracked windows. Used by tests and metrics.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
