// Package ratelimit implements a distributed sliding-window rate limiter
// with a process-local fallback.
//
// The primary store is a shared Redis counter, so a limit holds across all
// server instances. When Redis is unreachable the limiter fails open to a
// local fixed-window store: the guarded operation stays available and is
// still limited per process, which is the accepted degradation during an
// infrastructure outage. A limiter failure never blocks a request except
// for a genuine limit breach.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of a limit check.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Store is a windowed counter. Implementations must be safe for
// concurrent use and must mutate counters with atomic primitives, never
// caller-side read-modify-write.
type Store interface {
	// Check consumes one unit for key in the current window and reports
	// whether the request is within limit.
	Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// storeTimeout bounds the shared-store round trip so a slow Redis cannot
// hang the guarded request.
const storeTimeout = 150 * time.Millisecond

// Limiter checks keys against the shared store, falling back to the local
// store on any shared-store error.
type Limiter struct {
	shared Store // nil when no shared store is configured
	local  Store
	logger *zap.Logger
}

// New builds a limiter. shared may be nil, in which case only local
// enforcement applies. local must not be nil.
func New(shared, local Store, logger *zap.Logger) *Limiter {
	return &Limiter{shared: shared, local: local, logger: logger}
}

// Check consumes one unit for key and reports the decision.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) Result {
	if l.shared != nil {
		cctx, cancel := context.WithTimeout(ctx, storeTimeout)
		res, err := l.shared.Check(cctx, key, limit, window)
		cancel()
		if err == nil {
			return res
		}
		// Fail open: availability over perfect global enforcement.
		l.logger.Warn("shared rate-limit store unavailable, using local fallback",
			zap.String("key", key),
			zap.Error(err),
		)
	}

	res, err := l.local.Check(ctx, key, limit, window)
	if err != nil {
		// The local store has no failure mode today; if one appears,
		// still prefer availability.
		l.logger.Error("local rate-limit store failed, allowing request",
			zap.String("key", key),
			zap.Error(err),
		)
		return Result{Allowed: true, Remaining: 0, ResetAt: time.Now().Add(window)}
	}
	return res
}

// CheckPolicy checks a named policy for a subject, deriving the counter
// key from the policy's action namespace.
func (l *Limiter) CheckPolicy(ctx context.Context, p Policy, subjectID string) Result {
	return l.Check(ctx, p.Key(subjectID), p.Limit, p.Window)
}
