package script

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/bridge"
)

func newPool(t *testing.T) *VMPool {
	t.Helper()
	pool, err := NewVMPool(PoolConfig{MinSize: 1, MaxSize: 4})
	if err != nil {
		t.Fatalf("NewVMPool failed: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func resolve(t *testing.T, r *Resolver) (bridge.ResolvedState, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.BeginResolution(ctx).Await(ctx)
}

func TestResolverEvaluatesScript(t *testing.T) {
	pool := newPool(t)
	r, err := NewResolver(pool, `
		({
			state: { greeting: "hello " + input.name },
			markup: "<p>hello " + input.name + "</p>"
		})
	`, map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	state, err := resolve(t, r)
	if err != nil {
		t.Fatalf("resolution failed: %v", err)
	}
	if state.Markup() != "<p>hello ada</p>" {
		t.Fatalf("unexpected markup %q", state.Markup())
	}
	b, err := state.MarshalState()
	if err != nil {
		t.Fatalf("MarshalState failed: %v", err)
	}
	if string(b) != `{"greeting":"hello ada"}` {
		t.Fatalf("unexpected state %q", b)
	}
}

func TestResolverRejectsInvalidSource(t *testing.T) {
	if _, err := NewResolver(newPool(t), `function (`, nil); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestResolverScriptErrorIsDependencyFailure(t *testing.T) {
	r, err := NewResolver(newPool(t), `(function(){ throw new Error("no data"); })()`, nil)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	_, err = resolve(t, r)
	if !errors.Is(err, bridge.ErrDependencyFailed) {
		t.Fatalf("expected dependency failure, got %v", err)
	}
}

func TestResolverRequiresMarkup(t *testing.T) {
	r, err := NewResolver(newPool(t), `({ state: 1 })`, nil)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	_, err = resolve(t, r)
	if !errors.Is(err, bridge.ErrInternal) {
		t.Fatalf("expected internal error for missing markup, got %v", err)
	}
}

func TestResolverInterruptsOnDeadline(t *testing.T) {
	r, err := NewResolver(newPool(t), `while (true) {}`, nil)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = r.BeginResolution(ctx).Await(ctx)
	if err == nil {
		t.Fatal("expected interruption of a busy loop")
	}
	if !bridge.IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("busy loop was not interrupted promptly")
	}
}

func TestResolverInterruptSurvivesVMRetirement(t *testing.T) {
	// A reuse budget of 1 retires the VM on every checkout, so each run's
	// interrupt watcher overlaps a teardown of the previous run's VM.
	pool, err := NewVMPool(PoolConfig{MinSize: 0, MaxSize: 2, MaxReuseCount: 1})
	if err != nil {
		t.Fatalf("NewVMPool failed: %v", err)
	}
	defer pool.Close()

	r, err := NewResolver(pool, `while (true) {}`, nil)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := r.BeginResolution(ctx).Await(ctx)
		cancel()
		if !bridge.IsCancelled(err) {
			t.Fatalf("run %d: expected cancellation, got %v", i, err)
		}
	}
}

func TestResolverGlobalsDoNotLeakBetweenRuns(t *testing.T) {
	pool, err := NewVMPool(PoolConfig{MinSize: 1, MaxSize: 1})
	if err != nil {
		t.Fatalf("NewVMPool failed: %v", err)
	}
	defer pool.Close()

	writer, err := NewResolver(pool, `globalThis.leak = "secret"; ({ state: null, markup: "<w>" })`, nil)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	if _, err := resolve(t, writer); err != nil {
		t.Fatalf("writer resolution failed: %v", err)
	}

	reader, err := NewResolver(pool, `({ state: typeof leak, markup: "<r>" })`, nil)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	state, err := resolve(t, reader)
	if err != nil {
		t.Fatalf("reader resolution failed: %v", err)
	}
	b, _ := state.MarshalState()
	if string(b) != `"undefined"` {
		t.Fatalf("global leaked between evaluations: %s", b)
	}
}

func TestSandboxRemovesHostGlobals(t *testing.T) {
	r, err := NewResolver(newPool(t), `({ state: typeof fetch, markup: "<x>" })`, nil)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	state, err := resolve(t, r)
	if err != nil {
		t.Fatalf("resolution failed: %v", err)
	}
	b, _ := state.MarshalState()
	if string(b) != `"undefined"` {
		t.Fatalf("fetch visible in sandbox: %s", b)
	}
}

func TestPoolRespectsMaxSize(t *testing.T) {
	pool, err := NewVMPool(PoolConfig{MinSize: 0, MaxSize: 2})
	if err != nil {
		t.Fatalf("NewVMPool failed: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	a, err := pool.acquire(ctx)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	b, err := pool.acquire(ctx)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if pool.Size() != 2 {
		t.Fatalf("expected 2 live VMs, got %d", pool.Size())
	}

	blocked, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := pool.acquire(blocked); err == nil {
		t.Fatal("expected acquire past MaxSize to block until deadline")
	}

	pool.release(a)
	pool.release(b)
}

func TestPoolCloseRacingRelease(t *testing.T) {
	for i := 0; i < 50; i++ {
		pool, err := NewVMPool(PoolConfig{MinSize: 0, MaxSize: 1})
		if err != nil {
			t.Fatalf("NewVMPool failed: %v", err)
		}
		vm, err := pool.acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}

		released := make(chan struct{})
		go func() {
			pool.release(vm)
			close(released)
		}()
		pool.Close()
		<-released
	}
}
