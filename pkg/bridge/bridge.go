// Package bridge defines the contract a component implements to declare
// itself asynchronous. A bridge component cannot render until its resolution
// has produced a state payload; the scheduler in pkg/scheduler drives that
// resolution with bounded concurrency and captures the result for hydration.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
)

// Resolvable is implemented by components that must resolve asynchronous
// work (fetches, computed state) before they can render to markup.
//
// BeginResolution must not block: it starts the work and returns a handle
// representing it. The returned handle's Await suspends until the work
// completes, fails, or the context is cancelled.
type Resolvable interface {
	BeginResolution(ctx context.Context) ResolutionHandle
}

// ResolutionHandle represents one in-flight resolution.
//
// Await must observe ctx cancellation and return promptly with a Cancelled
// error; work that cannot be interrupted mid-flight may keep running but its
// result is discarded by the caller. Idempotence of the underlying work is
// NOT assumed: retries are the scheduler's responsibility.
type ResolutionHandle interface {
	Await(ctx context.Context) (ResolvedState, error)
}

// ResolvedState is the typed payload produced by a completed resolution.
// MarshalState must be deterministic: the same resolved value must always
// yield identical bytes, because the client matches the hydration payload
// byte-for-byte during replay.
type ResolvedState interface {
	// MarshalState serializes the state for the hydration payload
	MarshalState() ([]byte, error)

	// Markup returns the rendered representation of the resolved component
	Markup() string
}

// State is the common ResolvedState implementation: a data value serialized
// as JSON plus the markup rendered from it. encoding/json sorts map keys,
// which keeps the serialization deterministic for map-shaped data.
type State struct {
	// Data is the resolved value handed to the client
	Data any

	// HTML is the server-rendered representation of the component
	HTML string
}

// MarshalState serializes Data as JSON
func (s State) MarshalState() ([]byte, error) {
	b, err := json.Marshal(s.Data)
	if err != nil {
		return nil, NewError(KindInternal, "failed to serialize resolved state", err)
	}
	return b, nil
}

// Markup returns the rendered representation
func (s State) Markup() string {
	return s.HTML
}

// Func adapts a plain function into a Resolvable. The function runs in its
// own goroutine started by BeginResolution, so the caller never blocks.
type Func func(ctx context.Context) (ResolvedState, error)

// BeginResolution starts fn in a goroutine and returns a handle for it
func (f Func) BeginResolution(ctx context.Context) ResolutionHandle {
	h := &funcHandle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				h.err = NewError(KindInternal, fmt.Sprintf("resolution panicked: %v", r), nil)
			}
		}()
		h.state, h.err = f(ctx)
	}()
	return h
}

type funcHandle struct {
	done  chan struct{}
	state ResolvedState
	err   error
}

// Await waits for the function to finish or the context to be cancelled.
func (h *funcHandle) Await(ctx context.Context) (ResolvedState, error) {
	select {
	case <-h.done:
		if h.err != nil {
			return nil, AsResolutionError(h.err)
		}
		return h.state, nil
	case <-ctx.Done():
		return nil, NewError(KindCancelled, "resolution cancelled", ctx.Err())
	}
}
