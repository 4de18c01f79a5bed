package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/webhookrelay/internal/engine"
	"github.com/platinummonkey/webhookrelay/pkg/config"
	"github.com/platinummonkey/webhookrelay/pkg/deliveryclient"
	"github.com/platinummonkey/webhookrelay/pkg/observability"
	"github.com/platinummonkey/webhookrelay/pkg/staterepo"
	"github.com/platinummonkey/webhookrelay/pkg/webhookapi"
	"github.com/platinummonkey/webhookrelay/pkg/webhookstore"
)

func main() {
	// Load configuration from environment
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting webhookrelay delivery engine")

	// Initialize OpenTelemetry (if enabled)
	ctx := context.Background()
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		// Don't fail - continue without OTel
	}

	// Load the engine's own hot-reloadable configuration (retry/batching/
	// rate-limit knobs). An empty EnginePath runs on DefaultEngineConfig
	// with no file watch.
	engineWatcher, err := config.NewEngineConfigWatcher(cfg.EnginePath, func(_ config.EngineConfig, err error) {
		if err != nil {
			logger.WithError(err).Error("Engine config reload failed, keeping last-good config")
		} else {
			logger.Info("Engine config reloaded")
		}
	})
	if err != nil {
		log.Fatalf("Failed to load engine configuration: %v", err)
	}
	engineCfg := engineWatcher.Current()

	// Connect to Postgres (webhook metadata + event queue)
	connMgr, err := webhookstore.NewConnectionManager(cfg.Storage.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	logger.Info("Postgres connection established")

	// Connect the Redis fast-path + S3 durable state repository
	stateRepo, err := staterepo.New(ctx, staterepo.Config{
		Redis: cfg.Storage.Redis,
		S3:    cfg.Storage.S3,
	})
	if err != nil {
		log.Fatalf("Failed to initialize state repository: %v", err)
	}
	logger.Info("State repository initialized (Redis fast path + S3 durable copy)")

	// Core engine collaborators
	state := engine.NewInternalState()
	errs := engine.NewErrorBus(engineCfg.ErrorSlidingCapacity)

	store := webhookstore.New(connMgr, 2*time.Second, webhookstore.WithPollErrorHandler(func(err error) {
		errs.Publish(engine.ErrorRecord{Op: "poll", Err: err})
	}))

	httpClient := deliveryclient.New()

	var limiter *engine.RateLimiter
	if engineCfg.RateLimit.MaxRequests > 0 {
		limiter = engine.NewRateLimiter(engineCfg.RateLimit.MaxRequests, engineCfg.RateLimit.Period)
	}

	lifecycle := engine.NewLifecycle(engine.LifecycleConfig{
		State:                        state,
		Webhooks:                     store,
		Events:                       store,
		Client:                       httpClient,
		StateRepo:                    stateRepo,
		Errs:                         errs,
		Limiter:                      limiter,
		RetryConfig:                  engineCfg.Retry.ToEngine(),
		BatchingCapacity:             engineCfg.BatchingCapacity,
		MaxSingleDispatchConcurrency: engineCfg.MaxSingleDispatchConcurrency,
		NewRetriesCapacity:           engineCfg.NewRetriesCapacity,
	})

	// Initialize health checker against the same Postgres/Redis connections,
	// plus the S3 durable store and the engine's own delivery state.
	healthChecker := observability.NewHealthChecker(connMgr.Primary(), stateRepo.RedisClient()).
		WithDurableStore(stateRepo).
		WithDeliveryState(state)
	logger.Info("Health checker initialized with Postgres, Redis, S3, and delivery state")

	// Prometheus metrics registry
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Admin HTTP server: webhook/event introspection, error tail, rate
	// limited to protect it from runaway polling clients.
	apiServer := webhookapi.NewServer(state, errs, store)
	router := mux.NewRouter()
	router.Use(webhookapi.RateLimitMiddleware(webhookapi.DefaultRateLimitConfig()))
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	apiServer.RegisterRoutes(router)
	logger.Info("Admin API routes registered")

	var handler http.Handler = router
	// OpenTelemetry HTTP instrumentation would wrap handler here when
	// enabled; omitted pending the otelmux adapter (not in this module's
	// dependency set).

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Separate health/metrics server, for k8s probes
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, healthChecker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
		logger.Info("Metrics endpoint enabled at /metrics")
	}

	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		defer observability.RecoverPanicWithCallback(logger, "health server goroutine", func() {
			os.Exit(1)
		})
		logger.Infof("Starting health/metrics server on port %s", cfg.Server.HealthPort)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	// Start the delivery engine's long-running component
	lifecycle.Start(ctx)
	logger.Info("Delivery engine started: new-event subscription, recovery, and retry monitoring are live")

	// Setup graceful shutdown
	shutdownManager := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)

	shutdownManager.RegisterShutdownFunc("health server", func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})

	shutdownManager.RegisterShutdownFunc("delivery engine", func(ctx context.Context) error {
		return lifecycle.Shutdown(ctx)
	})

	shutdownManager.RegisterShutdownFunc("engine config watcher", func(ctx context.Context) error {
		return engineWatcher.Close()
	})

	shutdownManager.RegisterShutdownFunc("Postgres connections", func(ctx context.Context) error {
		return connMgr.Close()
	})

	if otelProviders != nil {
		shutdownManager.RegisterShutdownFunc("OpenTelemetry", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	// Start main server in background
	go func() {
		defer observability.RecoverPanicWithCallback(logger, "admin API server goroutine", func() {
			os.Exit(1)
		})
		logger.Infof("Starting admin API server on %s:%s", cfg.Server.Host, cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	logger.Info("webhookrelay started successfully, waiting for shutdown signal")
	if err := shutdownManager.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
		os.Exit(1)
	}

	logger.Info("webhookrelay shutdown complete")
}
