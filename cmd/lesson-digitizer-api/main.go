// Package main provides the lesson digitizer API server entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spherical/lesson-digitizer/internal/app"
	"github.com/spherical/lesson-digitizer/internal/blob"
	"github.com/spherical/lesson-digitizer/internal/config"
	"github.com/spherical/lesson-digitizer/internal/observability"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("database", cfg.Database.Driver).
		Str("jobs", cfg.Jobs.Store).
		Str("storage", cfg.Storage.Driver).
		Int("max_concurrent_jobs", cfg.Pipeline.MaxConcurrentJobs).
		Msg("Starting lesson digitizer API")

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize")
		os.Exit(1)
	}

	deps := RouterDeps{
		Logger:         logger,
		Metrics:        a.Metrics,
		Processor:      a.Orchestrator,
		Lessons:        a.Stores.Lessons,
		Topics:         a.Stores.Topics,
		Blobs:          a.Blobs,
		Covers:         a.Converter,
		Ready:          a.Stores.Ping,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.ReadTimeout,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}
	if local, ok := a.Blobs.(*blob.LocalStore); ok {
		deps.FilesDir = local.Dir()
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Server error")
		}
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	// Running jobs get what is left of the grace period, then are failed.
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Jobs interrupted during shutdown")
	}

	logger.Info().Msg("Server stopped")
}
