package worker

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker tracks consecutive handler failures across the whole queue. Once
// the threshold is reached it opens and dispatch halts; after the cooldown
// it half-opens and lets exactly one probe job through. A probe success
// closes it, a probe failure reopens it and restarts the cooldown.
//
// It is a safety valve against a failing external dependency (a metadata
// provider outage), not a per-job-type mechanism.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		state:     BreakerClosed,
	}
}

// Allow reports whether a claimed job may be handed to its handler. When the
// breaker is half-open the first caller gets probe=true and must report the
// outcome via RecordSuccess or RecordFailure with that flag.
func (b *Breaker) Allow() (ok, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true, false
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, false
		}
		b.state = BreakerHalfOpen
		fallthrough
	case BreakerHalfOpen:
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	}
	return false, false
}

// RecordSuccess notes a handler success. Any success resets the consecutive
// failure count, but only a probe success closes an opened breaker: a job
// claimed before the breaker opened may finish while it is open, and that
// must not bypass the cooldown and probe handshake.
func (b *Breaker) RecordSuccess(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if probe {
		b.probing = false
		b.state = BreakerClosed
	}
}

// RecordFailure notes a handler failure. A probe failure reopens the breaker
// and restarts the cooldown; otherwise the consecutive count grows and the
// breaker opens at the threshold.
func (b *Breaker) RecordFailure(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
		b.state = BreakerOpen
		b.openedAt = b.now()
		return
	}
	b.failures++
	if b.state == BreakerClosed && b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current position, accounting for an elapsed cooldown.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
