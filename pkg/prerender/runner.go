// Package prerender runs the static pre-render step as a JetStream worker.
// It pulls page jobs from a stream in batches, renders each page through a
// render session and publishes the finished document to the configured
// document store.
package prerender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/wehubfusion/Daedalus/internal/tracing"
	"github.com/wehubfusion/Daedalus/pkg/component"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/render"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Job is one pre-render request pulled from the stream
type Job struct {
	// JobID identifies the job across retries
	JobID string `json:"jobId"`

	// Page is the logical page path to render, e.g. "/docs/intro"
	Page string `json:"page"`

	// Params carries page-specific inputs for the page builder
	Params map[string]any `json:"params,omitempty"`
}

// PageBuilder produces a fresh component tree for a job. Trees are never
// reused between jobs; the core is stateless across renders.
type PageBuilder interface {
	BuildPage(ctx context.Context, job Job) (*component.Tree, error)
}

// PageBuilderFunc adapts a function to the PageBuilder interface
type PageBuilderFunc func(ctx context.Context, job Job) (*component.Tree, error)

// BuildPage calls the function
func (f PageBuilderFunc) BuildPage(ctx context.Context, job Job) (*component.Tree, error) {
	return f(ctx, job)
}

// Runner manages concurrent pre-rendering from a NATS JetStream consumer.
// It pulls jobs in batches and distributes them to worker goroutines, each
// of which renders the page and uploads the result.
type Runner struct {
	js              nats.JetStreamContext
	engine          *render.Engine
	pages           PageBuilder
	store           storage.DocumentStore
	stream          string
	consumer        string
	subject         string
	batchSize       int
	numWorkers      int
	renderCfg       render.Config
	renderTimeout   time.Duration
	breaker         *concurrency.Breaker
	logger          *zap.Logger
	tracer          trace.Tracer
	tracingShutdown func(context.Context) error
}

// Options configures a Runner
type Options struct {
	// Stream is the JetStream stream holding pre-render jobs
	Stream string

	// Consumer is the durable consumer name
	Consumer string

	// BatchSize is how many jobs to pull at once
	BatchSize int

	// NumWorkers is the number of rendering worker goroutines
	NumWorkers int

	// RenderTimeout bounds one page render end to end
	RenderTimeout time.Duration

	// RenderConfig is the session configuration applied to every page
	RenderConfig render.Config

	// Tracing is optional; when set, tracing is configured on start and
	// shut down on Close
	Tracing *tracing.Config
}

// NewRunner creates a runner pulling jobs from the given JetStream context.
// The connection must already be established.
func NewRunner(js nats.JetStreamContext, engine *render.Engine, pages PageBuilder, store storage.DocumentStore, opts Options, logger *zap.Logger) (*Runner, error) {
	if js == nil {
		return nil, errors.New("JetStream context cannot be nil")
	}
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if pages == nil {
		return nil, errors.New("page builder cannot be nil")
	}
	if store == nil {
		return nil, errors.New("document store cannot be nil")
	}
	if opts.Stream == "" {
		return nil, errors.New("stream name cannot be empty")
	}
	if opts.Consumer == "" {
		return nil, errors.New("consumer name cannot be empty")
	}
	if opts.BatchSize <= 0 {
		return nil, errors.New("batch size must be greater than 0")
	}
	if opts.NumWorkers <= 0 {
		return nil, errors.New("number of workers must be greater than 0")
	}
	if opts.RenderTimeout <= 0 {
		return nil, errors.New("render timeout must be greater than 0")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if err := ensureStream(js, opts.Stream, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure stream %q exists: %w", opts.Stream, err)
	}

	r := &Runner{
		js:            js,
		engine:        engine,
		pages:         pages,
		store:         store,
		stream:        opts.Stream,
		consumer:      opts.Consumer,
		subject:       fmt.Sprintf("%s.render", opts.Stream),
		batchSize:     opts.BatchSize,
		numWorkers:    opts.NumWorkers,
		renderCfg:     opts.RenderConfig,
		renderTimeout: opts.RenderTimeout,
		breaker:       concurrency.NewBreaker(20, 30*time.Second),
		logger:        logger,
		tracer:        otel.Tracer("daedalus/prerender"),
	}

	if opts.Tracing != nil {
		shutdown, err := tracing.Setup(context.Background(), *opts.Tracing, logger)
		if err != nil {
			logger.Warn("Failed to setup tracing, continuing without tracing", zap.Error(err))
		} else {
			r.tracingShutdown = shutdown
		}
	}

	return r, nil
}

// ensureStream creates the JetStream stream if it doesn't exist
func ensureStream(js nats.JetStreamContext, streamName string, logger *zap.Logger) error {
	info, err := js.StreamInfo(streamName)
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("failed to get stream info for %q: %w", streamName, err)
		}
		logger.Info("Creating JetStream stream", zap.String("stream", streamName))
		cfg := &nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{fmt.Sprintf("%s.*", streamName)},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
			MaxMsgs:  100000,
			Replicas: 1,
		}
		if _, err := js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to create stream %q: %w", streamName, err)
		}
		return nil
	}

	logger.Info("JetStream stream already exists",
		zap.String("stream", streamName),
		zap.Uint64("messages", info.State.Msgs),
		zap.Int("consumers", info.State.Consumers))
	return nil
}

// Close shuts down the runner's tracing, if configured
func (r *Runner) Close() error {
	if r.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.tracingShutdown(ctx); err != nil {
			r.logger.Error("Error shutting down tracing", zap.Error(err))
			return err
		}
	}
	return nil
}

// Run starts the pre-render pipeline. It blocks until the context is
// cancelled and all workers have drained.
func (r *Runner) Run(ctx context.Context) error {
	sub, err := r.js.PullSubscribe(r.subject, r.consumer, nats.BindStream(r.stream))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", r.subject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}()

	jobChan := make(chan *nats.Msg, r.batchSize)
	var wg sync.WaitGroup

	for i := 0; i < r.numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, workerID, jobChan)
		}(i)
	}

	go func() {
		defer close(jobChan)

		backoff := 100 * time.Millisecond
		maxBackoff := 5 * time.Second

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Shutting down job puller")
				return
			default:
			}

			msgs, err := sub.Fetch(r.batchSize, nats.Context(ctx))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, nats.ErrTimeout) {
					continue
				}
				r.logger.Error("Error fetching jobs", zap.Error(err))
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
				continue
			}
			backoff = 100 * time.Millisecond

			for _, msg := range msgs {
				select {
				case jobChan <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
		r.logger.Info("Pre-render runner completed")
		return nil
	case <-ctx.Done():
		<-done
		r.logger.Info("Pre-render runner stopped")
		return ctx.Err()
	}
}

// worker renders jobs from the channel until it closes
func (r *Runner) worker(ctx context.Context, workerID int, jobChan <-chan *nats.Msg) {
	r.logger.Info("Pre-render worker started", zap.Int("workerID", workerID))
	defer r.logger.Info("Pre-render worker stopped", zap.Int("workerID", workerID))

	for {
		select {
		case msg, ok := <-jobChan:
			if !ok {
				return
			}
			r.processJob(ctx, workerID, msg)
		case <-ctx.Done():
			return
		}
	}
}

// processJob renders one page job and uploads the result
func (r *Runner) processJob(ctx context.Context, workerID int, msg *nats.Msg) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		r.logger.Error("Discarding malformed job",
			zap.Int("workerID", workerID),
			zap.Error(err))
		r.term(msg)
		return
	}

	ctx, span := r.tracer.Start(ctx, "prerender.processJob",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.id", job.JobID),
			attribute.String("job.page", job.Page),
		))
	defer span.End()

	if !r.breaker.Allow() {
		r.logger.Warn("Circuit open, requeueing job",
			zap.Int("workerID", workerID),
			zap.String("jobID", job.JobID))
		span.SetStatus(codes.Error, "circuit open")
		r.nak(msg)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.renderTimeout)
	defer cancel()

	start := time.Now()
	tree, err := r.pages.BuildPage(jobCtx, job)
	if err != nil {
		r.fail(span, msg, workerID, job, "failed to build page tree", err)
		return
	}

	var doc bytes.Buffer
	result, err := r.engine.Render(jobCtx, tree, r.renderCfg, &doc)
	if err != nil {
		r.fail(span, msg, workerID, job, "failed to render page", err)
		return
	}

	url, err := r.store.PutDocument(jobCtx, job.Page, doc.Bytes(), map[string]string{
		"jobid":     job.JobID,
		"sessionid": result.Report.SessionID,
	})
	if err != nil {
		r.fail(span, msg, workerID, job, "failed to store document", err)
		return
	}

	r.breaker.RecordSuccess()
	span.SetAttributes(
		attribute.String("document.url", url),
		attribute.Int("document.bytes", doc.Len()),
		attribute.Int("degraded.nodes", len(result.Report.Degraded)),
	)
	span.SetStatus(codes.Ok, "page rendered")

	r.logger.Info("Pre-rendered page",
		zap.Int("workerID", workerID),
		zap.String("jobID", job.JobID),
		zap.String("page", job.Page),
		zap.Int("degradedNodes", len(result.Report.Degraded)),
		zap.Duration("duration", time.Since(start)))

	if err := msg.Ack(); err != nil {
		r.logger.Error("Error acking job", zap.Int("workerID", workerID), zap.Error(err))
	}
}

func (r *Runner) fail(span trace.Span, msg *nats.Msg, workerID int, job Job, reason string, err error) {
	r.breaker.RecordFailure()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.logger.Error(reason,
		zap.Int("workerID", workerID),
		zap.String("jobID", job.JobID),
		zap.String("page", job.Page),
		zap.Error(err))
	r.nak(msg)
}

func (r *Runner) nak(msg *nats.Msg) {
	if err := msg.Nak(); err != nil {
		r.logger.Error("Error naking job", zap.Error(err))
	}
}

func (r *Runner) term(msg *nats.Msg) {
	if err := msg.Term(); err != nil {
		r.logger.Error("Error terminating job", zap.Error(err))
	}
}
