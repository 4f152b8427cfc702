package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/blackmichael/readercache/internal/config"
	"github.com/blackmichael/readercache/internal/domain"
	"github.com/blackmichael/readercache/internal/httpserver"
	"github.com/blackmichael/readercache/internal/ingest"
	"github.com/blackmichael/readercache/internal/observe"
	"github.com/blackmichael/readercache/internal/scheduler"
	"github.com/blackmichael/readercache/internal/sqlite"
	"github.com/blackmichael/readercache/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "readercache",
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("error flushing traces", "error", err)
		}
	}()

	// The repository is also the stream and blog registry.
	repo, err := sqlite.NewRepository(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()
	logger.Info("opened database", "path", cfg.DatabasePath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observe.NewMetrics(reg)
	sink := observe.MultiSink{observe.NewLogSink(logger), metrics}

	reader, err := domain.NewReaderService(repo, repo, repo, sink, logger, cfg.MaxPostsPerStream)
	if err != nil {
		return fmt.Errorf("create reader service: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Scheduled maintenance
	sched := scheduler.New(logger, cfg.JobTimeout)
	if err := sched.AddJob(httpserver.PurgeJob, cfg.PurgeSchedule, func(ctx context.Context) error {
		_, err := reader.RunPurge(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := sched.AddJob(httpserver.ReconcileJob, cfg.ReconcileSchedule, func(ctx context.Context) error {
		_, err := reader.ReconcileFollowedStatus(ctx)
		return err
	}); err != nil {
		return err
	}
	sched.Start()

	// Start the ingest subscriber in the background
	if cfg.IngestURL != "" {
		subscriber := ingest.NewSubscriber(cfg.IngestURL, reader, metrics, logger)
		go func() {
			if err := subscriber.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("ingest subscriber exited with error", "error", err)
			}
		}()
	} else {
		logger.Info("ingest disabled, READER_INGEST_URL is not set")
	}

	// Start the HTTP server
	server := httpserver.NewServer(cfg, reader, repo, sched, metrics, reg, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "max_posts_per_stream", reader.MaxPostsPerStream())

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("maintenance job still running at shutdown")
	}

	return nil
}
