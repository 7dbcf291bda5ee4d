// seqjoin-service is the HTTP API server that turns sequence similarity
// searches into identifier filters.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"seqjoin/internal/api"
	"seqjoin/internal/app"
	"seqjoin/internal/config"
	"seqjoin/internal/health"
	"seqjoin/internal/logging"
	"seqjoin/internal/notify"
	"seqjoin/internal/observability"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// A local .env file is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	// Load configuration
	cfg, err := config.Load(os.Getenv(config.PathEnv))
	if err != nil {
		return err
	}
	logging.Setup(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	// Setup tracing and metrics
	tp := observability.NewTracerProvider("seqjoin-service", version)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Warn("Tracer provider shutdown error", "error", err)
		}
	}()

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Create the search pipeline (transport, controller, optional cache)
	pipeline, err := app.Build(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	slog.Info("Search pipeline ready",
		"program", cfg.Fasta.Program,
		"database", cfg.Fasta.Database,
		"kinds", pipeline.Kinds,
		"poll_interval", cfg.Fasta.PollInterval,
		"timeout", cfg.Fasta.Timeout,
	)

	// Create completion callback dispatcher (nil when disabled)
	notifier := app.NewNotifier(cfg, metrics)
	if notifier != nil {
		slog.Info("Search callbacks enabled",
			"workers", cfg.Notify.Workers,
			"signed", cfg.Notify.SigningKey != "",
		)
	}

	// Create async search manager
	manager := pipeline.NewManager(cfg, notifier)

	// Create health checker
	healthChecker := health.NewChecker(pipeline.HealthChecks()...)

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Runner:        pipeline.Runner,
		Searches:      manager,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Defaults:      app.Defaults(cfg),
		ScoreOrder:    cfg.ScoreOrder(),
		FailurePolicy: cfg.Service.FailurePolicy,
		APIKey:        cfg.Service.APIKey,
	})

	if cfg.Service.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Synchronous filter requests wait for the whole remote job.
	writeTimeout := cfg.Fasta.Timeout + 30*time.Second

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + cfg.Service.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.Service.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", cfg.Service.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", cfg.Service.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		manager.Close(context.Background())
		closeNotifier(notifier, 5*time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	// Wait for load balancers to stop sending traffic
	if cfg.Service.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.Service.ShutdownDrainWait)
		time.Sleep(cfg.Service.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Cancel background searches and wait for their goroutines
	slog.Info("Cancelling running searches")
	managerCtx, managerCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer managerCancel()
	if err := manager.Close(managerCtx); err != nil {
		slog.Warn("Search manager shutdown error", "error", err)
	}

	// Phase 4: Deliver queued completion callbacks
	closeNotifier(notifier, 10*time.Second)

	slog.Info("Shutdown complete")
	return nil
}

func closeNotifier(n *notify.Notifier, timeout time.Duration) {
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		slog.Warn("Notifier shutdown error", "error", err)
	}
	stats := n.Stats()
	slog.Info("Notifier stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
		"retries", stats.Retries,
	)
}
