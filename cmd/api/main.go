package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civiclens/civiclens/backend/internal/api/handlers"
	"github.com/civiclens/civiclens/backend/internal/api/routes"
	"github.com/civiclens/civiclens/backend/internal/application/services"
	"github.com/civiclens/civiclens/backend/internal/bootstrap"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/observability"
	"github.com/civiclens/civiclens/backend/pkg/config"
	"github.com/civiclens/civiclens/backend/pkg/secrets"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	if _, err := secrets.ApplyFromEnv(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load secrets from Vault: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.App.Environment)

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	var metrics *observability.Metrics
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("Error shutting down OpenTelemetry")
				}
			}()

			metrics, err = observability.InitMetrics()
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to initialize metrics")
			}
			log.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	components, err := bootstrap.Build(ctx, cfg, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	defer func() {
		if err := components.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing clients")
		}
	}()

	// Attempts orphaned by a crash are expired at startup and then periodically
	reconciler := services.NewStaleAttemptReconciler(
		components.ProcessingLog,
		components.Coordinator,
		components.EventBus,
		metrics,
		cfg.Pipeline.StaleAfter,
	)
	reconciler.StartPeriodic(ctx, cfg.Pipeline.ReconcileInterval)

	var cacheInvalidationService *services.CacheInvalidationService
	if components.Cache != nil {
		cacheInvalidationService = services.NewCacheInvalidationService(components.Cache, components.EventBus)
		if err := cacheInvalidationService.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start cache invalidation service")
			cacheInvalidationService = nil
		}
	}

	var advanceService *services.PipelineAdvanceService
	if cfg.Pipeline.AutoAdvance {
		advanceService = services.NewPipelineAdvanceService(components.Coordinator, components.EventBus)
		if err := advanceService.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start pipeline auto-advance")
		}
	}

	// Initialize handlers
	router := routes.NewRouter(
		handlers.NewHealthHandler(cfg.App),
		handlers.NewPolicyHandler(components.Policy, cfg.Upload.MaxBytes),
		handlers.NewPipelineHandler(components.Coordinator),
		handlers.NewSSEHandler(components.EventBus),
		components.Policy.SearchEnabled(),
		cfg.Server.AllowedOrigins,
		metrics,
	)

	// WriteTimeout stays unset so event streams are not cut off; cancelling
	// the base context ends them on shutdown
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info().Str("addr", serverAddr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Server shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during server shutdown")
	}

	if advanceService != nil {
		advanceService.Stop()
	}
	if cacheInvalidationService != nil {
		cacheInvalidationService.Stop()
	}

	log.Info().Msg("Server stopped")
}
