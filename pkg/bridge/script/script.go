// Package script provides a bridge resolvable whose state is computed by a
// sandboxed JavaScript program. The program receives its input as `input`
// and must evaluate to an object of the form
//
//	{ state: <any JSON-serializable value>, markup: "<html>" }
//
// VMs come from a shared pool so concurrent render sessions do not pay VM
// construction cost per node.
package script

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/wehubfusion/Daedalus/pkg/bridge"
)

// Resolver is a bridge.Resolvable backed by a JavaScript program
type Resolver struct {
	pool    *VMPool
	program *goja.Program
	input   any
}

// NewResolver compiles source once and returns a resolvable evaluating it
// with the given input value.
func NewResolver(pool *VMPool, source string, input any) (*Resolver, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	program, err := goja.Compile("resolution", source, true)
	if err != nil {
		return nil, fmt.Errorf("failed to compile resolution script: %w", err)
	}
	return &Resolver{pool: pool, program: program, input: input}, nil
}

// BeginResolution starts the program on a pooled VM
func (r *Resolver) BeginResolution(ctx context.Context) bridge.ResolutionHandle {
	return bridge.Func(r.run).BeginResolution(ctx)
}

func (r *Resolver) run(ctx context.Context) (bridge.ResolvedState, error) {
	vm, err := r.pool.acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, bridge.NewError(bridge.KindCancelled, "cancelled acquiring VM", err)
		}
		return nil, bridge.NewError(bridge.KindInternal, "failed to acquire VM", err)
	}
	defer r.pool.release(vm)

	// Interrupt the VM if the node's deadline or the session ends mid-run.
	// The runtime pointer is guarded because the pool may tear the VM down
	// concurrently once it is released.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			vm.mu.RLock()
			if vm.vm != nil {
				vm.vm.Interrupt(ctx.Err())
			}
			vm.mu.RUnlock()
		case <-watchDone:
		}
	}()

	if err := vm.vm.Set("input", r.input); err != nil {
		return nil, bridge.NewError(bridge.KindInternal, "failed to bind input", err)
	}

	value, err := vm.vm.RunProgram(r.program)
	if err != nil {
		if ctx.Err() != nil {
			return nil, bridge.NewError(bridge.KindCancelled, "script interrupted", ctx.Err())
		}
		return nil, bridge.NewError(bridge.KindDependencyFailed, "resolution script failed", err)
	}

	var out struct {
		State  any    `json:"state"`
		Markup string `json:"markup"`
	}
	if err := vm.vm.ExportTo(value, &out); err != nil {
		return nil, bridge.NewError(bridge.KindInternal, "script result has wrong shape", err)
	}
	if out.Markup == "" {
		return nil, bridge.NewError(bridge.KindInternal, "script result is missing markup", nil)
	}

	return bridge.State{Data: out.State, HTML: out.Markup}, nil
}
