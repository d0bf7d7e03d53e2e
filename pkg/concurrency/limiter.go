// Package concurrency bounds how many bridge resolutions run at once.
// The limiter is the backpressure point of the scheduler: once the bound is
// reached, newly discovered nodes queue in Acquire until a slot frees.
package concurrency

import (
	"context"
	"sync/atomic"
	"time"
)

// Metrics tracks limiter behavior over one render session. PeakInFlight is
// the observable proof that the configured bound was never exceeded.
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	PeakInFlight    int64
	TotalWaitTimeNs int64
}

// Limiter provides semaphore-based concurrency control with observability
type Limiter struct {
	sem    chan struct{}
	active int64

	totalAcquired   int64
	totalReleased   int64
	peakInFlight    int64
	totalWaitTimeNs int64
}

// NewLimiter creates a limiter allowing at most maxInFlight concurrent
// holders. Values below 1 are clamped to 1.
func NewLimiter(maxInFlight int) *Limiter {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Limiter{sem: make(chan struct{}, maxInFlight)}
}

// Cap returns the configured maximum number of concurrent holders
func (l *Limiter) Cap() int {
	return cap(l.sem)
}

// Acquire blocks until a slot is free or the context ends. It returns the
// context error on cancellation, leaving the limiter untouched.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()

	select {
	case l.sem <- struct{}{}:
		atomic.AddInt64(&l.totalWaitTimeNs, time.Since(start).Nanoseconds())
		atomic.AddInt64(&l.totalAcquired, 1)
		l.updatePeak(atomic.AddInt64(&l.active, 1))
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot to the limiter
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		atomic.AddInt64(&l.active, -1)
		atomic.AddInt64(&l.totalReleased, 1)
	default:
		// Release without a matching Acquire; nothing to return
	}
}

// InFlight returns the current number of held slots
func (l *Limiter) InFlight() int64 {
	return atomic.LoadInt64(&l.active)
}

// GetMetrics returns a snapshot of the limiter metrics
func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalAcquired:   atomic.LoadInt64(&l.totalAcquired),
		TotalReleased:   atomic.LoadInt64(&l.totalReleased),
		PeakInFlight:    atomic.LoadInt64(&l.peakInFlight),
		TotalWaitTimeNs: atomic.LoadInt64(&l.totalWaitTimeNs),
	}
}

// AverageWaitTime reports how long acquirers waited on average, a direct
// read on how much backpressure the bound produced.
func (l *Limiter) AverageWaitTime() time.Duration {
	m := l.GetMetrics()
	if m.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(m.TotalWaitTimeNs / m.TotalAcquired)
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := atomic.LoadInt64(&l.peakInFlight)
		if current <= peak {
			return
		}
		if atomic.CompareAndSwapInt64(&l.peakInFlight, peak, current) {
			return
		}
	}
}
