package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates that a resolution exceeded its deadline
	ErrTimeout = errors.New("resolution timed out")

	// ErrDependencyFailed indicates that an upstream dependency of the
	// resolution (fetch, database call, sibling result) failed
	ErrDependencyFailed = errors.New("resolution dependency failed")

	// ErrCancelled indicates that the resolution was cancelled before completing
	ErrCancelled = errors.New("resolution cancelled")

	// ErrInternal indicates an unexpected failure inside the resolvable itself
	ErrInternal = errors.New("internal resolution failure")
)

// Kind classifies a resolution failure.
type Kind int

const (
	// KindTimeout means the node's deadline elapsed before resolution completed
	KindTimeout Kind = iota

	// KindDependencyFailed means something the resolution depends on failed
	KindDependencyFailed

	// KindCancelled means the resolution was cancelled cooperatively
	KindCancelled

	// KindInternal means the resolvable failed in an unexpected way
	KindInternal
)

// String returns the string representation of the error kind
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindDependencyFailed:
		return "dependency-failed"
	case KindCancelled:
		return "cancelled"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// ResolutionError is a structured resolution failure carrying its kind,
// a human-readable detail and the underlying cause, if any.
type ResolutionError struct {
	// Kind is the failure classification
	Kind Kind

	// Detail is a human-readable description of what went wrong
	Detail string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Detail)
}

// Unwrap returns the sentinel matching the error kind alongside the
// underlying cause, so callers can use errors.Is against ErrTimeout,
// ErrDependencyFailed, ErrCancelled and ErrInternal regardless of how the
// error was constructed.
func (e *ResolutionError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.sentinel(), e.Err}
	}
	return []error{e.sentinel()}
}

func (e *ResolutionError) sentinel() error {
	switch e.Kind {
	case KindTimeout:
		return ErrTimeout
	case KindDependencyFailed:
		return ErrDependencyFailed
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrInternal
	}
}

// NewError creates a new structured resolution error
func NewError(kind Kind, detail string, err error) *ResolutionError {
	return &ResolutionError{
		Kind:   kind,
		Detail: detail,
		Err:    err,
	}
}

// AsResolutionError extracts a *ResolutionError from err, wrapping plain
// errors as KindInternal so every failure reported out of a resolvable has
// a classification.
func AsResolutionError(err error) *ResolutionError {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re
	}
	switch {
	case errors.Is(err, ErrTimeout):
		return NewError(KindTimeout, "resolution timed out", err)
	case errors.Is(err, ErrDependencyFailed):
		return NewError(KindDependencyFailed, "dependency failed", err)
	case errors.Is(err, ErrCancelled):
		return NewError(KindCancelled, "resolution cancelled", err)
	default:
		return NewError(KindInternal, "resolution failed", err)
	}
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCancelled checks if an error is a cancellation error
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
