// breaker.go — Delivery circuit breaker.
// Streak-based state machine guarding the ingestion endpoint: five
// consecutive failed flushes open the circuit; after the reset interval a
// single probe flush is allowed (half-open); a success closes the circuit,
// any failure reopens it for another interval. While open, flush attempts
// short-circuit without consuming from the queue.
package delivery

import (
	"sync"
	"time"

	"github.com/Basillica/eaglet/internal/diag"
)

// BreakerState is one of closed, open, half-open.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

const (
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold = 5
	// ResetInterval is how long the circuit stays open before a probe.
	ResetInterval = 60 * time.Second
)

// Breaker tracks consecutive delivery failures.
type Breaker struct {
	mu         sync.Mutex
	state      BreakerState
	failures   int
	openedAt   time.Time
	resetTimer *time.Timer

	threshold  int
	resetAfter time.Duration
}

// NewBreaker returns a closed breaker with the default threshold and reset
// interval.
func NewBreaker() *Breaker {
	return &Breaker{threshold: FailureThreshold, resetAfter: ResetInterval}
}

// newBreakerWithReset is the test seam for a short reset interval.
func newBreakerWithReset(resetAfter time.Duration) *Breaker {
	return &Breaker{threshold: FailureThreshold, resetAfter: resetAfter}
}

// Allow reports whether a flush attempt may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != BreakerOpen
}

// RecordSuccess resets the failure streak and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.state
	b.failures = 0
	b.state = BreakerClosed
	b.stopTimerLocked()
	if prev != BreakerClosed {
		diag.L("delivery").Warnf("circuit closed after successful delivery")
	}
}

// RecordFailure counts one failed flush. Returns true when the circuit is
// open after this failure.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerHalfOpen {
		// Probe failed: straight back to open for another interval.
		b.openLocked("probe failed")
		return true
	}
	if b.state == BreakerClosed && b.failures >= b.threshold {
		b.openLocked("consecutive failures")
		return true
	}
	return b.state == BreakerOpen
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Stop cancels the pending reset timer (collector shutdown).
func (b *Breaker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopTimerLocked()
}

// openLocked transitions to open and arms the half-open probe timer.
// Caller must hold the lock.
func (b *Breaker) openLocked(reason string) {
	b.state = BreakerOpen
	b.openedAt = time.Now()
	b.stopTimerLocked()
	b.resetTimer = time.AfterFunc(b.resetAfter, b.halfOpen)
	diag.L("delivery").Warnf("circuit opened (%s) after %d consecutive failures", reason, b.failures)
}

func (b *Breaker) halfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen {
		b.state = BreakerHalfOpen
	}
}

func (b *Breaker) stopTimerLocked() {
	if b.resetTimer != nil {
		b.resetTimer.Stop()
		b.resetTimer = nil
	}
}
