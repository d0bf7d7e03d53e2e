package concurrency

import (
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState represents the state of the circuit breaker
type BreakerState int32

const (
	// BreakerClosed indicates renders are allowed
	BreakerClosed BreakerState = 0

	// BreakerOpen indicates renders are refused while upstream recovers
	BreakerOpen BreakerState = 1

	// BreakerHalfOpen indicates the breaker is probing whether to close
	BreakerHalfOpen BreakerState = 2
)

// String returns the string representation of the breaker state
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// halfOpenSuccesses is how many consecutive successful renders in half-open
// state close the circuit again.
const halfOpenSuccesses = 5

// Breaker stops the pre-render worker from hammering a failing upstream.
// Consecutive render failures past the threshold open the circuit; after
// resetTimeout it half-opens and probes with live traffic.
type Breaker struct {
	state                int32 // atomic: BreakerState
	consecutiveFailures  int64 // atomic
	consecutiveSuccesses int64 // atomic
	lastFailureTime      int64 // atomic: Unix nano timestamp
	failureThreshold     int64
	resetTimeout         time.Duration
	mu                   sync.Mutex
}

// NewBreaker creates a breaker that opens after failureThreshold consecutive
// failures and probes again after resetTimeout.
func NewBreaker(failureThreshold int64, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 10
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
}

// Allow reports whether an operation may proceed, transitioning an expired
// open circuit to half-open as a side effect.
func (b *Breaker) Allow() bool {
	state := BreakerState(atomic.LoadInt32(&b.state))
	if state != BreakerOpen {
		return true
	}
	lastFailure := atomic.LoadInt64(&b.lastFailureTime)
	if lastFailure > 0 && time.Since(time.Unix(0, lastFailure)) > b.resetTimeout {
		b.transitionTo(BreakerHalfOpen)
		return true
	}
	return false
}

// RecordSuccess records a successful operation
func (b *Breaker) RecordSuccess() {
	state := BreakerState(atomic.LoadInt32(&b.state))
	atomic.StoreInt64(&b.consecutiveFailures, 0)

	if state == BreakerHalfOpen {
		if atomic.AddInt64(&b.consecutiveSuccesses, 1) >= halfOpenSuccesses {
			b.transitionTo(BreakerClosed)
		}
	}
}

// RecordFailure records a failed operation
func (b *Breaker) RecordFailure() {
	state := BreakerState(atomic.LoadInt32(&b.state))
	atomic.StoreInt64(&b.consecutiveSuccesses, 0)
	atomic.StoreInt64(&b.lastFailureTime, time.Now().UnixNano())

	failures := atomic.AddInt64(&b.consecutiveFailures, 1)
	if state == BreakerClosed && failures >= b.failureThreshold {
		b.transitionTo(BreakerOpen)
	} else if state == BreakerHalfOpen {
		// Any failure while probing reopens the circuit
		b.transitionTo(BreakerOpen)
	}
}

// State returns the current state of the breaker
func (b *Breaker) State() BreakerState {
	return BreakerState(atomic.LoadInt32(&b.state))
}

func (b *Breaker) transitionTo(newState BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := BreakerState(atomic.LoadInt32(&b.state))
	if oldState == newState {
		return
	}
	atomic.StoreInt32(&b.state, int32(newState))

	switch newState {
	case BreakerClosed:
		atomic.StoreInt64(&b.consecutiveFailures, 0)
		atomic.StoreInt64(&b.consecutiveSuccesses, 0)
	case BreakerHalfOpen:
		atomic.StoreInt64(&b.consecutiveSuccesses, 0)
	}
}
