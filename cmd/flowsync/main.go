package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agendaflow/backend/internal/adapters/cache"
	"github.com/agendaflow/backend/internal/adapters/database"
	"github.com/agendaflow/backend/internal/adapters/events"
	"github.com/agendaflow/backend/internal/application/services"
	"github.com/agendaflow/backend/internal/infrastructure/clients/postgres"
	"github.com/agendaflow/backend/internal/infrastructure/clients/redis"
	"github.com/agendaflow/backend/internal/infrastructure/observability"
	"github.com/agendaflow/backend/pkg/config"
)

// flowsync publishes a tenant's draft flow generation from the command line,
// for operations and rollout scripts.
func main() {
	var integrationID string
	flag.StringVar(&integrationID, "integration", "", "Integration (tenant) ID to publish")
	flag.Parse()

	if integrationID == "" {
		log.Fatal("Usage: flowsync -integration <integration-id>")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Env)
	logger := observability.GetLogger()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(context.Background(), cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
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

	metrics, err := observability.InitMetrics()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize metrics")
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pgClient.Close()

	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	flowRepo := database.NewFlowAdapter(pgClient, metrics)
	actionCache := cache.NewRedisAdapter(redisClient)
	eventBus := events.NewRedisEventBus(redisClient)
	defer eventBus.Close()

	matcher := services.NewFlowMatchingService(flowRepo)
	actions := services.NewFlowActionService(matcher, actionCache, nil, metrics, cfg.FlowEngine.ActionCacheTTLSeconds)
	sync := services.NewFlowSyncService(flowRepo, actions, eventBus, metrics)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	if err := sync.Publish(ctx, integrationID); err != nil {
		logger.Fatal().Err(err).Str("integration_id", integrationID).Msg("Publish failed")
	}

	count, err := flowRepo.CountPublished(ctx, integrationID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to count published flows")
	}

	logger.Info().
		Str("integration_id", integrationID).
		Int("published", count).
		Dur("took", time.Since(start)).
		Msg("Publish complete")
}
