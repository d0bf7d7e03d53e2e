// Package scheduler converts a component tree containing unresolved bridge
// nodes into a fully resolved tree plus a populated state registry.
//
// Slot indices are assigned to bridge nodes in pre-order traversal order
// before any resolution starts, so payload ordering is stable no matter
// which resolutions finish first. Resolutions then run concurrently,
// bounded by the configured limiter; discovery past the bound queues until
// a slot frees.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/bridge"
	"github.com/wehubfusion/Daedalus/pkg/component"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/hydration"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// NodeState tracks a bridge node through its resolution lifecycle
type NodeState int

const (
	// Discovered means the node has a slot but resolution has not started
	Discovered NodeState = iota

	// Resolving means the node's resolution is in flight
	Resolving

	// Resolved means the node resolved successfully
	Resolved

	// Failed means the node's resolution failed terminally
	Failed

	// TimedOut means the node's per-node deadline elapsed
	TimedOut

	// Cancelled means the node's resolution was cancelled before completing
	Cancelled
)

// String returns the string representation of the node state
func (s NodeState) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed-out"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// NodeReport describes the outcome of one bridge node's resolution
type NodeReport struct {
	// Slot is the node's stable hydration slot index
	Slot int

	// Node is the node's ID in the input tree
	Node component.NodeID

	// State is the node's terminal state
	State NodeState

	// Err is the failure cause for non-Resolved states
	Err *bridge.ResolutionError
}

// NodeError is the scheduler-boundary error for a failed node under
// fail-fast mode.
type NodeError struct {
	// Slot is the failing node's slot index
	Slot int

	// Node is the failing node's ID
	Node component.NodeID

	// Cause is the classified resolution failure
	Cause *bridge.ResolutionError
}

// Error implements the error interface
func (e *NodeError) Error() string {
	return fmt.Sprintf("resolution of node %d (slot %d) failed: %v", e.Node, e.Slot, e.Cause)
}

// Unwrap returns the underlying resolution error
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// Result is the output of one scheduler pass
type Result struct {
	// Tree is the fully resolved tree; every bridge node has been swapped
	// for a static node carrying its resolved (or fallback) markup
	Tree *component.Tree

	// Registry holds the serialized state of every resolved node, sealed
	Registry *hydration.Registry

	// Reports holds one terminal report per bridge node, in slot order
	Reports []NodeReport

	// Degraded lists the nodes rendered as fallback placeholders under
	// best-effort mode, in slot order
	Degraded []NodeReport

	// Concurrency is the limiter metrics snapshot for the pass; its
	// PeakInFlight never exceeds the configured bound
	Concurrency concurrency.Metrics
}

// Scheduler resolves the bridge nodes of component trees. It is stateless
// across passes; all per-pass state lives in the Result.
type Scheduler struct {
	logger *zap.Logger
}

// New creates a scheduler logging through the given logger
func New(logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Scheduler{logger: logger}, nil
}

type slot struct {
	index    int
	node     component.NodeID
	fallback string
}

// Resolve runs one scheduler pass over tree. The input tree is never
// mutated; the resolved tree in the Result is a private copy. A tree with
// no bridge nodes returns synchronously without touching the concurrency
// machinery.
func (s *Scheduler) Resolve(ctx context.Context, tree *component.Tree, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()

	registry := hydration.NewRegistry()

	// Pre-order discovery assigns every slot before any resolution starts;
	// this fixes payload ordering independent of completion order.
	var slots []slot
	tree.Walk(func(id component.NodeID, n *component.Node) bool {
		if n.Kind == component.KindBridge {
			fallback := n.Fallback
			if fallback == "" {
				fallback = cfg.FallbackMarkup
			}
			slots = append(slots, slot{index: len(slots), node: id, fallback: fallback})
		}
		return true
	})

	if len(slots) == 0 {
		registry.Seal()
		return &Result{Tree: tree, Registry: registry}, nil
	}

	resolved := tree.Clone()
	limiter := concurrency.NewLimiter(cfg.MaxConcurrentResolutions)
	tracer := otel.Tracer("daedalus/scheduler")

	// runCtx lets one failure cancel every sibling under fail-fast
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	reports := make([]NodeReport, len(slots))
	var wg sync.WaitGroup

	for _, sl := range slots {
		wg.Add(1)
		go func(sl slot) {
			defer wg.Done()

			report := NodeReport{Slot: sl.index, Node: sl.node, State: Discovered}
			defer func() { reports[sl.index] = report }()

			if err := limiter.Acquire(runCtx); err != nil {
				report.State = Cancelled
				report.Err = bridge.NewError(bridge.KindCancelled, "cancelled before resolution started", err)
				return
			}
			defer limiter.Release()

			report.State = Resolving
			nodeCtx, span := tracer.Start(runCtx, "scheduler.resolveNode")
			span.SetAttributes(
				attribute.Int("node.slot", sl.index),
				attribute.Int("node.id", int(sl.node)),
			)
			defer span.End()

			state, rerr := s.resolveNode(nodeCtx, tree.Node(sl.node).Resolvable, cfg)
			if rerr != nil {
				span.RecordError(rerr)
				span.SetStatus(codes.Error, rerr.Error())
				report.State = terminalState(rerr)
				report.Err = rerr
				s.logger.Warn("bridge resolution failed",
					zap.Int("slot", sl.index),
					zap.String("state", report.State.String()),
					zap.Error(rerr))
				if cfg.FailureMode == FailFast {
					cancelRun()
				}
				return
			}

			stateBytes, err := state.MarshalState()
			if err != nil {
				rerr := bridge.AsResolutionError(err)
				span.RecordError(rerr)
				span.SetStatus(codes.Error, rerr.Error())
				report.State = Failed
				report.Err = rerr
				if cfg.FailureMode == FailFast {
					cancelRun()
				}
				return
			}
			if err := registry.Put(sl.index, stateBytes); err != nil {
				report.State = Failed
				report.Err = bridge.NewError(bridge.KindInternal, "failed to record resolved state", err)
				if cfg.FailureMode == FailFast {
					cancelRun()
				}
				return
			}

			// Swap the bridge node for a static node carrying its markup
			n := resolved.Node(sl.node)
			n.Kind = component.KindStatic
			n.HTML = state.Markup()
			n.Resolvable = nil

			span.SetStatus(codes.Ok, "resolved")
			report.State = Resolved
			s.logger.Debug("bridge resolved", zap.Int("slot", sl.index))
		}(sl)
	}

	wg.Wait()
	registry.Seal()

	// The session deadline or caller cancellation aborts the whole pass
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var degraded []NodeReport
	var firstFailure *NodeReport
	for i := range reports {
		r := &reports[i]
		if r.State == Resolved {
			continue
		}
		// Under fail-fast the triggering failure cancels its siblings;
		// report the lowest-slot real failure, not an induced cancellation.
		if firstFailure == nil || (firstFailure.State == Cancelled && r.State != Cancelled) {
			firstFailure = r
		}
		degraded = append(degraded, *r)
	}

	if firstFailure != nil && cfg.FailureMode == FailFast {
		return nil, &NodeError{Slot: firstFailure.Slot, Node: firstFailure.Node, Cause: firstFailure.Err}
	}

	// Best-effort: failed nodes render their fallback placeholder
	for _, d := range degraded {
		var fallback string
		for _, sl := range slots {
			if sl.index == d.Slot {
				fallback = sl.fallback
				break
			}
		}
		n := resolved.Node(d.Node)
		n.Kind = component.KindStatic
		n.HTML = fallback
		n.Resolvable = nil
	}
	sort.Slice(degraded, func(i, j int) bool { return degraded[i].Slot < degraded[j].Slot })

	return &Result{
		Tree:        resolved,
		Registry:    registry,
		Reports:     reports,
		Degraded:    degraded,
		Concurrency: limiter.GetMetrics(),
	}, nil
}

// resolveNode drives one node through begin/await with the per-node
// deadline and retry policy applied.
func (s *Scheduler) resolveNode(ctx context.Context, r bridge.Resolvable, cfg Config) (bridge.ResolvedState, *bridge.ResolutionError) {
	var lastErr *bridge.ResolutionError

	for attempt := 0; attempt <= cfg.NodeRetries; attempt++ {
		nodeCtx := ctx
		cancel := context.CancelFunc(func() {})
		if cfg.PerNodeTimeout > 0 {
			nodeCtx, cancel = context.WithTimeout(ctx, cfg.PerNodeTimeout)
		}

		handle := r.BeginResolution(nodeCtx)
		state, err := handle.Await(nodeCtx)
		cancel()

		if err == nil {
			return state, nil
		}
		lastErr = classify(nodeCtx, ctx, err)

		// Cancellation of the pass is terminal; a per-node timeout or
		// plain failure may still be retried
		if lastErr.Kind == bridge.KindCancelled {
			return nil, lastErr
		}
		if attempt < cfg.NodeRetries {
			s.logger.Debug("retrying bridge resolution",
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
		}
	}
	return nil, lastErr
}

// classify maps an Await failure to its kind. A deadline on the node context
// while the pass context is still live is a per-node timeout; a dead pass
// context means the whole pass was cancelled.
func classify(nodeCtx, passCtx context.Context, err error) *bridge.ResolutionError {
	if passCtx.Err() != nil {
		return bridge.NewError(bridge.KindCancelled, "resolution cancelled", passCtx.Err())
	}
	if errors.Is(nodeCtx.Err(), context.DeadlineExceeded) || bridge.IsTimeout(err) {
		return bridge.NewError(bridge.KindTimeout, "per-node deadline elapsed", err)
	}
	return bridge.AsResolutionError(err)
}

func terminalState(err *bridge.ResolutionError) NodeState {
	switch err.Kind {
	case bridge.KindTimeout:
		return TimedOut
	case bridge.KindCancelled:
		return Cancelled
	default:
		return Failed
	}
}
