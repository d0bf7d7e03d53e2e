package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	natsconn "github.com/wehubfusion/Daedalus/internal/nats"
	"github.com/wehubfusion/Daedalus/internal/project"
	"github.com/wehubfusion/Daedalus/internal/tracing"
	"github.com/wehubfusion/Daedalus/pkg/component"
	"github.com/wehubfusion/Daedalus/pkg/prerender"
	"github.com/wehubfusion/Daedalus/pkg/render"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"go.uber.org/zap"
)

var prerenderCmd = &cobra.Command{
	Use:   "prerender",
	Short: "Run a pre-render worker consuming jobs from NATS JetStream",
	Long: `Starts a worker that pulls pre-render jobs from a JetStream stream,
renders the requested pages, and uploads the finished documents to blob
storage. Jobs are JSON messages carrying a page path and optional params.`,
	RunE: runPrerender,
}

func init() {
	prerenderCmd.Flags().String("nats-url", "nats://localhost:4222", "NATS server URL")
	prerenderCmd.Flags().String("stream", "PRERENDER", "JetStream stream name")
	prerenderCmd.Flags().String("consumer", "daedalus-worker", "Durable consumer name")
	prerenderCmd.Flags().Int("workers", 4, "Number of rendering workers")
	prerenderCmd.Flags().Int("batch", 8, "Jobs to pull per batch")
	prerenderCmd.Flags().Duration("render-timeout", 30*time.Second, "Timeout for one page render")
	prerenderCmd.Flags().String("storage-connection", "", "Azure storage connection string (or AZURE_STORAGE_CONNECTION_STRING)")
	prerenderCmd.Flags().String("container", "rendered-pages", "Blob container for rendered documents")
	prerenderCmd.Flags().String("otlp-endpoint", "", "Enable tracing with this OTLP HTTP endpoint")
	rootCmd.AddCommand(prerenderCmd)
}

func runPrerender(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	dir, _ := cmd.Flags().GetString("dir")
	proj, err := project.Load(dir, logger)
	if err != nil {
		return err
	}
	defer proj.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connStr, _ := cmd.Flags().GetString("storage-connection")
	if connStr == "" {
		connStr = os.Getenv("AZURE_STORAGE_CONNECTION_STRING")
	}
	if connStr == "" {
		return fmt.Errorf("storage connection string is required")
	}
	container, _ := cmd.Flags().GetString("container")
	store, err := storage.NewAzureBlobStore(connStr, container, logger)
	if err != nil {
		return err
	}

	natsURL, _ := cmd.Flags().GetString("nats-url")
	nc, err := natsconn.Connect(ctx, natsconn.DefaultConnectionConfig(natsURL))
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	engine, err := render.NewEngine(logger)
	if err != nil {
		return err
	}

	sessionCfg := renderConfig(proj.Config.Render)
	sessionCfg.Assets = proj.Assets

	pages := proj.Pages()
	builder := prerender.PageBuilderFunc(func(_ context.Context, job prerender.Job) (*component.Tree, error) {
		name := strings.Trim(job.Page, "/")
		build, ok := pages[name]
		if !ok {
			return nil, fmt.Errorf("unknown page %q", job.Page)
		}
		return proj.Shell.Tree(build), nil
	})

	stream, _ := cmd.Flags().GetString("stream")
	consumer, _ := cmd.Flags().GetString("consumer")
	workers, _ := cmd.Flags().GetInt("workers")
	batch, _ := cmd.Flags().GetInt("batch")
	renderTimeout, _ := cmd.Flags().GetDuration("render-timeout")

	opts := prerender.Options{
		Stream:        stream,
		Consumer:      consumer,
		BatchSize:     batch,
		NumWorkers:    workers,
		RenderTimeout: renderTimeout,
		RenderConfig:  sessionCfg,
	}
	if endpoint, _ := cmd.Flags().GetString("otlp-endpoint"); endpoint != "" {
		cfg := tracing.DefaultConfig("daedalus-prerender")
		cfg.OTLPEndpoint = endpoint
		opts.Tracing = &cfg
	}

	runner, err := prerender.NewRunner(js, engine, builder, store, opts, logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	logger.Info("Pre-render worker starting",
		zap.String("stream", stream),
		zap.String("consumer", consumer),
		zap.Int("workers", workers))
	return runner.Run(ctx)
}
