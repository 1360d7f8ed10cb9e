package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agendaflow/backend/internal/adapters/cache"
	"github.com/agendaflow/backend/internal/adapters/events"
	"github.com/agendaflow/backend/internal/application/services"
	"github.com/agendaflow/backend/internal/infrastructure/clients/redis"
	"github.com/agendaflow/backend/internal/infrastructure/observability"
	"github.com/agendaflow/backend/pkg/config"
)

// flowworker runs the cross-instance cache maintenance daemon: it listens for
// flow draft-sync and publish events and drops the affected tenant's cached
// action results.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Env)
	logger := observability.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Warn().Err(err).Msg("Error shutting down OpenTelemetry")
				}
			}()
		}
	}

	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Redis client")
	}
	defer redisClient.Close()

	actionCache := cache.NewRedisAdapter(redisClient)
	eventBus := events.NewRedisEventBus(redisClient)
	defer eventBus.Close()

	invalidation := services.NewCacheInvalidationService(actionCache, eventBus)
	if err := invalidation.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start cache invalidation service")
	}
	defer invalidation.Stop()

	logger.Info().Str("env", cfg.Env).Msg("Flow worker ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("Shutting down")
}
