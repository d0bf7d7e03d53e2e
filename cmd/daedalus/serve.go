package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/wehubfusion/Daedalus/internal/project"
	"github.com/wehubfusion/Daedalus/internal/server"
	"github.com/wehubfusion/Daedalus/internal/tracing"
	"github.com/wehubfusion/Daedalus/internal/watcher"
	"github.com/wehubfusion/Daedalus/pkg/render"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the development server with file watching and live reload",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("address", "", "Listen address (overrides project config)")
	serveCmd.Flags().String("otlp-endpoint", "", "Enable tracing with this OTLP HTTP endpoint")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
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

	if endpoint, _ := cmd.Flags().GetString("otlp-endpoint"); endpoint != "" {
		cfg := tracing.DefaultConfig("daedalus-dev")
		cfg.OTLPEndpoint = endpoint
		shutdown, err := tracing.Setup(ctx, cfg, logger)
		if err != nil {
			logger.Warn("Failed to setup tracing, continuing without tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(shutdown, logger)
		}
	}

	captureErrors := false
	if dsn := proj.Config.Server.SentryDSN; dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			logger.Warn("Failed to init Sentry, continuing without error reporting", zap.Error(err))
		} else {
			captureErrors = true
			defer sentry.Flush(2 * time.Second)
		}
	}

	engine, err := render.NewEngine(logger)
	if err != nil {
		return err
	}

	sessionCfg := renderConfig(proj.Config.Render)
	sessionCfg.Assets = proj.Assets

	srv, err := server.New(engine, proj.Shell, sessionCfg, captureErrors, logger)
	if err != nil {
		return err
	}
	for name, build := range proj.Pages() {
		srv.RegisterPage(name, build)
	}

	w, err := watcher.New(dir, logger)
	if err != nil {
		return err
	}
	defer w.Close()
	go func() {
		for range w.Watch(ctx) {
			logger.Info("Sources changed, notifying clients")
			srv.NotifyReload()
		}
	}()

	address := proj.Config.Server.Address
	if flagAddr, _ := cmd.Flags().GetString("address"); flagAddr != "" {
		address = flagAddr
	}

	httpServer := &http.Server{Addr: address, Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Development server listening", zap.String("address", address))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
