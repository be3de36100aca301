package federation

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen fast-fails calls to a remote whose breaker has tripped.
var ErrCircuitOpen = errors.New("circuit open")

const (
	breakerFailureThreshold = 5
	breakerCooldown         = 60 * time.Second
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

type breaker struct {
	state    breakerState
	failures int
	openedAt time.Time
}

// Breakers tracks per-remote circuit state. Encapsulating the map (rather
// than package-level globals) lets tests reset state cleanly.
type Breakers struct {
	mu        sync.Mutex
	byRemote  map[string]*breaker
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreakers creates the circuit service with default thresholds.
func NewBreakers() *Breakers {
	return &Breakers{
		byRemote:  make(map[string]*breaker),
		threshold: breakerFailureThreshold,
		cooldown:  breakerCooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call to the remote may proceed. An open breaker
// transitions to half-open after the cooldown, admitting one probe.
func (b *Breakers) Allow(remote string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.byRemote[remote]
	if br == nil {
		return nil
	}
	switch br.state {
	case breakerClosed, breakerHalfOpen:
		return nil
	case breakerOpen:
		if b.now().Sub(br.openedAt) >= b.cooldown {
			br.state = breakerHalfOpen
			return nil
		}
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breakers) RecordSuccess(remote string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if br := b.byRemote[remote]; br != nil {
		br.state = breakerClosed
		br.failures = 0
	}
}

// RecordFailure counts a failure; the breaker opens at the threshold, and
// a failed half-open probe re-opens it immediately.
func (b *Breakers) RecordFailure(remote string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.byRemote[remote]
	if br == nil {
		br = &breaker{}
		b.byRemote[remote] = br
	}
	if br.state == breakerHalfOpen {
		br.state = breakerOpen
		br.openedAt = b.now()
		return
	}
	br.failures++
	if br.failures >= b.threshold {
		br.state = breakerOpen
		br.openedAt = b.now()
	}
}

// Reset clears all circuit state.
func (b *Breakers) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byRemote = make(map[string]*breaker)
}
