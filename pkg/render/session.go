// Package render owns the end-to-end render session: one request, one fresh
// state registry, one scheduler pass, one markup stream, one rewrite. All
// per-request state is allocated inside Render and released when it returns;
// nothing is shared between sessions, so concurrent sessions never contend.
package render

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/wehubfusion/Daedalus/internal/metrics"
	"github.com/wehubfusion/Daedalus/pkg/component"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/markup"
	"github.com/wehubfusion/Daedalus/pkg/rewrite"
	"github.com/wehubfusion/Daedalus/pkg/scheduler"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config controls one render session
type Config struct {
	// MaxConcurrentResolutions bounds in-flight bridge resolutions
	MaxConcurrentResolutions int

	// GlobalTimeout bounds the whole session; zero means no session deadline
	GlobalTimeout time.Duration

	// PerNodeTimeout bounds one node's resolution; zero means none
	PerNodeTimeout time.Duration

	// NodeRetries retries failed resolutions before reporting them
	NodeRetries int

	// FailureMode selects fail-fast or best-effort handling of node failures
	FailureMode scheduler.FailureMode

	// FallbackMarkup is the default placeholder for failed nodes under
	// best-effort mode
	FallbackMarkup string

	// Assets resolves logical asset names at asset markers; nil is valid
	// for documents without asset markers
	Assets rewrite.AssetResolver
}

// Report describes how a successful session went
type Report struct {
	// SessionID uniquely identifies the session in logs and traces
	SessionID string

	// Degraded lists nodes rendered as fallback placeholders, slot order
	Degraded []scheduler.NodeReport

	// Concurrency is the resolution limiter snapshot for the session
	Concurrency concurrency.Metrics

	// Duration is the end-to-end session time
	Duration time.Duration
}

// Result is a successful session's output besides the streamed document
type Result struct {
	// Payload is the serialized hydration payload, also inlined into the
	// document at the hydration marker
	Payload []byte

	// Report describes the session
	Report Report
}

// Engine renders component trees. It holds only immutable collaborators
// (logger, scheduler, tracer) and is safe for concurrent use; every call to
// Render allocates its own session state.
type Engine struct {
	logger *zap.Logger
	sched  *scheduler.Scheduler
	tracer trace.Tracer
}

// NewEngine creates a render engine logging through the given logger
func NewEngine(logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	sched, err := scheduler.New(logger)
	if err != nil {
		return nil, err
	}
	return &Engine{
		logger: logger,
		sched:  sched,
		tracer: otel.Tracer("daedalus/render"),
	}, nil
}

// Render runs one session over tree and streams the final document to w.
// Resolution completes before the first byte is written, so a fail-fast
// resolution failure produces no partial output. Rewriter structural errors
// are fatal and may leave a partial document in w; the returned error tells
// the caller not to serve it.
func (e *Engine) Render(ctx context.Context, tree *component.Tree, cfg Config, w io.Writer) (*Result, error) {
	start := time.Now()
	sessionID := uuid.NewString()

	if cfg.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.GlobalTimeout)
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, "render.session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("tree.nodes", tree.Len()),
			attribute.String("failure_mode", cfg.FailureMode.String()),
		))
	defer span.End()

	logger := e.logger.With(zap.String("sessionID", sessionID))
	logger.Debug("render session started",
		zap.Int("treeNodes", tree.Len()),
		zap.String("failureMode", cfg.FailureMode.String()))

	result, err := e.sched.Resolve(ctx, tree, scheduler.Config{
		MaxConcurrentResolutions: cfg.MaxConcurrentResolutions,
		PerNodeTimeout:           cfg.PerNodeTimeout,
		NodeRetries:              cfg.NodeRetries,
		FailureMode:              cfg.FailureMode,
		FallbackMarkup:           cfg.FallbackMarkup,
	})
	if err != nil {
		rerr := e.classifySchedulerError(ctx, err)
		span.RecordError(rerr)
		span.SetStatus(codes.Error, rerr.Error())
		metrics.SessionsTotal.WithLabelValues(outcomeLabel(rerr)).Inc()
		logger.Error("render session failed during resolution", zap.Error(rerr))
		return nil, rerr
	}

	for _, r := range result.Reports {
		metrics.ResolutionsTotal.WithLabelValues(r.State.String()).Inc()
	}

	payload, err := result.Registry.Payload()
	if err != nil {
		rerr := newRenderError(ErrRewriteFailed, err)
		span.RecordError(rerr)
		span.SetStatus(codes.Error, rerr.Error())
		metrics.SessionsTotal.WithLabelValues("rewrite_failed").Inc()
		return nil, rerr
	}

	stream := markup.Render(result.Tree)
	rewriter := rewrite.NewRewriter(cfg.Assets)
	if err := rewriter.Rewrite(stream, payload, w); err != nil {
		var rwErr *rewrite.RewriteError
		var rerr *RenderError
		if errors.As(err, &rwErr) {
			rerr = newRenderError(ErrRewriteFailed, err)
		} else {
			// Not structural: the output writer failed mid-stream
			rerr = e.classifyContextError(ctx, err)
		}
		span.RecordError(rerr)
		span.SetStatus(codes.Error, rerr.Error())
		metrics.SessionsTotal.WithLabelValues(outcomeLabel(rerr)).Inc()
		logger.Error("render session failed during rewrite", zap.Error(rerr))
		return nil, rerr
	}

	duration := time.Since(start)
	span.SetAttributes(
		attribute.Int("hydration.entries", result.Registry.Len()),
		attribute.Int("degraded.nodes", len(result.Degraded)),
		attribute.Int64("concurrency.peak", result.Concurrency.PeakInFlight),
	)
	span.SetStatus(codes.Ok, "rendered")

	metrics.SessionsTotal.WithLabelValues("ok").Inc()
	metrics.SessionDuration.Observe(duration.Seconds())
	if n := len(result.Degraded); n > 0 {
		metrics.DegradedNodes.Add(float64(n))
		logger.Warn("render session degraded",
			zap.Int("degradedNodes", n),
			zap.Duration("duration", duration))
	} else {
		logger.Debug("render session complete",
			zap.Int("hydrationEntries", result.Registry.Len()),
			zap.Duration("duration", duration))
	}

	return &Result{
		Payload: payload,
		Report: Report{
			SessionID:   sessionID,
			Degraded:    result.Degraded,
			Concurrency: result.Concurrency,
			Duration:    duration,
		},
	}, nil
}

// classifySchedulerError maps a scheduler failure onto the session taxonomy
func (e *Engine) classifySchedulerError(ctx context.Context, err error) *RenderError {
	var nodeErr *scheduler.NodeError
	if errors.As(err, &nodeErr) {
		return &RenderError{
			Sentinel: ErrResolutionFailed,
			Node:     nodeErr.Node,
			Slot:     nodeErr.Slot,
			Cause:    nodeErr.Cause,
		}
	}
	return e.classifyContextError(ctx, err)
}

func (e *Engine) classifyContextError(ctx context.Context, err error) *RenderError {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return newRenderError(ErrSessionTimeout, err)
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		return newRenderError(ErrSessionCancelled, err)
	default:
		return newRenderError(ErrRewriteFailed, err)
	}
}

func outcomeLabel(err *RenderError) string {
	switch {
	case errors.Is(err.Sentinel, ErrResolutionFailed):
		return "resolution_failed"
	case errors.Is(err.Sentinel, ErrSessionTimeout):
		return "session_timeout"
	case errors.Is(err.Sentinel, ErrSessionCancelled):
		return "session_cancelled"
	default:
		return "rewrite_failed"
	}
}
