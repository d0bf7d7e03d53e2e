package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiterEnforcesBound(t *testing.T) {
	const bound = 3
	limiter := NewLimiter(bound)
	ctx := context.Background()

	var inFlight, observedPeak int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(ctx); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer limiter.Release()

			cur := atomic.AddInt64(&inFlight, 1)
			for {
				peak := atomic.LoadInt64(&observedPeak)
				if cur <= peak || atomic.CompareAndSwapInt64(&observedPeak, peak, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
		}()
	}
	wg.Wait()

	if peak := atomic.LoadInt64(&observedPeak); peak > bound {
		t.Fatalf("observed %d concurrent holders, bound is %d", peak, bound)
	}
	m := limiter.GetMetrics()
	if m.TotalAcquired != 20 || m.TotalReleased != 20 {
		t.Fatalf("expected 20 acquisitions and releases, got %d/%d", m.TotalAcquired, m.TotalReleased)
	}
	if m.PeakInFlight > bound {
		t.Fatalf("metric peak %d exceeds bound %d", m.PeakInFlight, bound)
	}
	if m.PeakInFlight < 1 {
		t.Fatalf("expected positive peak, got %d", m.PeakInFlight)
	}
}

func TestLimiterAcquireRespectsContext(t *testing.T) {
	limiter := NewLimiter(1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline error, got %v", err)
	}

	limiter.Release()
	if limiter.InFlight() != 0 {
		t.Fatalf("expected no holders, got %d", limiter.InFlight())
	}
}

func TestLimiterClampsInvalidBound(t *testing.T) {
	limiter := NewLimiter(0)
	if limiter.Cap() != 1 {
		t.Fatalf("expected bound clamped to 1, got %d", limiter.Cap())
	}
}

func TestLimiterAverageWaitTime(t *testing.T) {
	limiter := NewLimiter(1)
	if limiter.AverageWaitTime() != 0 {
		t.Fatal("expected zero average with no acquisitions")
	}
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	limiter.Release()
	if limiter.AverageWaitTime() < 0 {
		t.Fatal("average wait time went negative")
	}
}
