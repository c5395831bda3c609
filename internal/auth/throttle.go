package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginThrottle limits credential attempts per client address, on top of the
// gate's global window. Buckets that have refilled completely are dropped.
type LoginThrottle struct {
	mu        sync.RWMutex
	limiters  map[string]*rate.Limiter
	perMin    int
	burst     int
	lastSweep time.Time
}

// NewLoginThrottle allows perMinute attempts per client with the given burst.
// A non-positive perMinute disables throttling.
func NewLoginThrottle(perMinute, burst int) *LoginThrottle {
	if burst < 1 {
		burst = perMinute
	}
	return &LoginThrottle{
		limiters: make(map[string]*rate.Limiter),
		perMin:   perMinute,
		burst:    burst,
	}
}

// Allow reports whether clientKey may attempt a login at now.
func (t *LoginThrottle) Allow(clientKey string, now time.Time) bool {
	if t == nil || t.perMin <= 0 {
		return true
	}
	t.sweep(now)
	return t.limiter(clientKey).AllowN(now, 1)
}

// refillPeriod is how long an empty bucket takes to fill up again.
func (t *LoginThrottle) refillPeriod() time.Duration {
	return time.Duration(t.burst) * time.Minute / time.Duration(t.perMin)
}

// sweep runs at most once per refill period and removes full buckets; such a
// client is indistinguishable from one never seen.
func (t *LoginThrottle) sweep(now time.Time) {
	period := t.refillPeriod()

	t.mu.RLock()
	due := now.Sub(t.lastSweep) >= period
	t.mu.RUnlock()
	if !due {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Sub(t.lastSweep) < period {
		return
	}
	t.lastSweep = now
	for key, limiter := range t.limiters {
		if limiter.TokensAt(now) >= float64(t.burst) {
			delete(t.limiters, key)
		}
	}
}

func (t *LoginThrottle) tracked() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.limiters)
}

func (t *LoginThrottle) limiter(clientKey string) *rate.Limiter {
	t.mu.RLock()
	limiter, exists := t.limiters[clientKey]
	t.mu.RUnlock()

	if !exists {
		t.mu.Lock()
		limiter, exists = t.limiters[clientKey]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(t.perMin)/60, t.burst)
			t.limiters[clientKey] = limiter
		}
		t.mu.Unlock()
	}
	return limiter
}
