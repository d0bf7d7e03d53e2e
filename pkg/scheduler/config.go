package scheduler

import "time"

// FailureMode selects what happens when one bridge node fails to resolve
type FailureMode int

const (
	// FailFast aborts the whole render on the first node failure and
	// cancels sibling resolutions
	FailFast FailureMode = iota

	// BestEffort substitutes a fallback placeholder for failed nodes and
	// lets the render succeed, reporting the degraded nodes
	BestEffort
)

// String returns the string representation of the failure mode
func (m FailureMode) String() string {
	if m == BestEffort {
		return "best-effort"
	}
	return "fail-fast"
}

// DefaultFallbackMarkup is rendered in place of a failed bridge node under
// best-effort mode when neither the node nor the config supplies one.
const DefaultFallbackMarkup = `<template data-unresolved></template>`

// Config controls one scheduler pass
type Config struct {
	// MaxConcurrentResolutions bounds in-flight bridge resolutions.
	// Values below 1 are treated as 1.
	MaxConcurrentResolutions int

	// PerNodeTimeout bounds a single node's resolution; zero means no
	// per-node deadline. A node timeout does not abort siblings unless
	// FailureMode is FailFast.
	PerNodeTimeout time.Duration

	// NodeRetries is how many times a failed resolution is retried before
	// being reported. The resolvable contract does not assume idempotence,
	// so retries are opt-in.
	NodeRetries int

	// FailureMode selects fail-fast or best-effort behavior
	FailureMode FailureMode

	// FallbackMarkup overrides DefaultFallbackMarkup for nodes without
	// their own fallback
	FallbackMarkup string
}

// DefaultConfig returns the configuration used when the caller passes the
// zero value: four concurrent resolutions, no per-node deadline, fail-fast.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentResolutions: 4,
		FailureMode:              FailFast,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentResolutions <= 0 {
		c.MaxConcurrentResolutions = DefaultConfig().MaxConcurrentResolutions
	}
	if c.FallbackMarkup == "" {
		c.FallbackMarkup = DefaultFallbackMarkup
	}
	return c
}
