// Package main provides the entry point for the asset processing worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/assetworks/asset-processing-service/internal/bootstrap"
	"github.com/assetworks/asset-processing-service/internal/config"
	"github.com/assetworks/asset-processing-service/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting asset processing worker",
		slog.String("api_base_url", cfg.APIBaseURL),
		slog.Int("max_num_workers", cfg.MaxNumWorkers),
		slog.Int("max_job_attempts", cfg.MaxJobAttempts),
		slog.Int("stuck_job_threshold_seconds", cfg.StuckJobThresholdSeconds),
		slog.Int64("max_chunk_size_bytes", cfg.MaxChunkSizeBytes),
		slog.String("temp_dir", cfg.TempDir),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
	)

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	// Register metrics
	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics and health endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsSrv := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening",
			slog.String("addr", metricsSrv.Addr),
		)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server failed: %w", err)
		}
	}()

	// Run the fetcher and worker pool until the context is cancelled
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := deps.Fetcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("fetcher stopped",
				slog.String("error", err.Error()),
			)
		}
	}()
	go func() {
		defer wg.Done()
		deps.Pool.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	}

	// Let in-flight jobs finish their current API writes, then stop serving
	// metrics.
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics shutdown failed: %w", err)
	}

	logger.Info("worker stopped gracefully")
	return nil
}
