// ABOUTME: Fixed-window in-memory rate limiter for verification endpoints
// ABOUTME: Lazy pruning on access, no background goroutine

package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultLimit is the number of attempts allowed per window.
	DefaultLimit = 5
	// DefaultWindow is the fixed window length.
	DefaultWindow = 10 * time.Minute
)

type window struct {
	start time.Time
	count int
}

// Limiter tracks attempt counts per key over a fixed window. Keys are
// typically "sourceAddr|endpoint". State is process-local.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
}

// New creates a limiter. Non-positive limit or period fall back to defaults.
func New(limit int, period time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if period <= 0 {
		period = DefaultWindow
	}
	return &Limiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// Allow records an attempt for key and reports whether it is within the
// limit. When denied, retryAfter is the time remaining in the current
// window. Expired entries are pruned opportunistically.
func (l *Limiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	w, exists := l.windows[key]
	if !exists || now.Sub(w.start) >= l.period {
		l.windows[key] = &window{start: now, count: 1}
		return true, 0
	}
	if w.count >= l.limit {
		return false, w.start.Add(l.period).Sub(now)
	}
	w.count++
	return true, 0
}

// Reset clears the window for key, used after a successful verification so
// a legitimate user is not locked out by their own earlier failures.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

func (l *Limiter) pruneLocked(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.period {
			delete(l.windows, k)
		}
	}
}
