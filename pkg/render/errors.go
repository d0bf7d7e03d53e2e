package render

import (
	"errors"
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/bridge"
	"github.com/wehubfusion/Daedalus/pkg/component"
)

var (
	// ErrResolutionFailed indicates a bridge node failed under fail-fast mode
	ErrResolutionFailed = errors.New("resolution failed")

	// ErrRewriteFailed indicates the document rewriter hit a structural error
	ErrRewriteFailed = errors.New("document rewrite failed")

	// ErrSessionTimeout indicates the session's global deadline elapsed
	ErrSessionTimeout = errors.New("render session timed out")

	// ErrSessionCancelled indicates the session was cancelled by its caller
	ErrSessionCancelled = errors.New("render session cancelled")
)

// RenderError is the error reported at the render session boundary. Sentinel
// matching with errors.Is works against the Err* variables above; the struct
// carries the failing node for resolution failures.
type RenderError struct {
	// Sentinel is one of the Err* classification values
	Sentinel error

	// Node is the failing node for ErrResolutionFailed, InvalidNode otherwise
	Node component.NodeID

	// Slot is the failing node's hydration slot for ErrResolutionFailed
	Slot int

	// Cause is the underlying error, if any
	Cause error
}

// Error implements the error interface
func (e *RenderError) Error() string {
	if errors.Is(e.Sentinel, ErrResolutionFailed) {
		return fmt.Sprintf("%v: node %d (slot %d): %v", e.Sentinel, e.Node, e.Slot, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%v: %v", e.Sentinel, e.Cause)
	}
	return e.Sentinel.Error()
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As
func (e *RenderError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Sentinel, e.Cause}
	}
	return []error{e.Sentinel}
}

// ResolutionCause returns the classified resolution failure for an
// ErrResolutionFailed error, or nil.
func (e *RenderError) ResolutionCause() *bridge.ResolutionError {
	var re *bridge.ResolutionError
	if errors.As(e.Cause, &re) {
		return re
	}
	return nil
}

func newRenderError(sentinel error, cause error) *RenderError {
	return &RenderError{Sentinel: sentinel, Node: component.InvalidNode, Cause: cause}
}
