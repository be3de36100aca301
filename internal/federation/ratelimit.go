package federation

import (
	"sync"
	"time"
)

// RateLimiter applies per-key sliding-window limits, keyed by origin
// address.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	buckets map[string][]time.Time
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing max events per window per key.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		window:  window,
		max:     max,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether another event for key fits in the window, and
// records it when it does.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.buckets[key][:0]
	for _, t := range l.buckets[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.max {
		l.buckets[key] = kept
		return false
	}
	l.buckets[key] = append(kept, now)
	return true
}

// Reset clears one key's window.
func (l *RateLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}
