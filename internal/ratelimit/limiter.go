package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Result describes the state of a client's window after a check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the client should wait before the window frees a slot.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	wait := r.ResetAt.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Store records requests inside a sliding window.
//
// Hit must be atomic: it counts the requests for key whose timestamp lies in
// (now-window, now], and records a new one only while that count is below
// limit. Two concurrent callers must never both observe the last free slot.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

// Limiter enforces a fixed request budget per client key over a sliding window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewLimiter builds a limiter allowing limit requests per window.
func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	if now != nil {
		l.now = now
	}
	return l
}

// Limit returns the configured capacity.
func (l *Limiter) Limit() int {
	return l.limit
}

// Check consumes one unit of clientKey's window.
func (l *Limiter) Check(ctx context.Context, clientKey string) (Result, error) {
	if l == nil || l.store == nil {
		return Result{}, errors.New("ratelimit: limiter not configured")
	}
	if clientKey == "" {
		clientKey = AnonymousKey
	}
	return l.store.Hit(ctx, clientKey, l.limit, l.window, l.now())
}

// AnonymousKey is used when a request carries no usable network address.
const AnonymousKey = "anonymous"
