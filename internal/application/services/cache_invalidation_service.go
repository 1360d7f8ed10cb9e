package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agendaflow/backend/internal/domain/entities"
	"github.com/agendaflow/backend/internal/domain/providers"
	"github.com/agendaflow/backend/internal/infrastructure/observability"
)

// CacheInvalidationService listens for flow lifecycle events published by
// other instances and drops the local view of the tenant's cached action
// results. The publishing instance invalidates its cache synchronously; this
// listener covers everyone else.
type CacheInvalidationService struct {
	cache    providers.CacheProvider
	eventBus providers.EventBus
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewCacheInvalidationService creates a new cache invalidation service
func NewCacheInvalidationService(cache providers.CacheProvider, eventBus providers.EventBus) *CacheInvalidationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CacheInvalidationService{
		cache:    cache,
		eventBus: eventBus,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins listening for flow events and invalidating cache
func (s *CacheInvalidationService) Start() error {
	eventChan, err := s.eventBus.Subscribe(s.ctx, providers.EventChannelFlowUpdates)
	if err != nil {
		return fmt.Errorf("failed to subscribe to flow updates: %w", err)
	}

	go s.processEvents(eventChan)
	observability.GetLogger().Info().Msg("Cache invalidation service started")
	return nil
}

// Stop stops the cache invalidation service
func (s *CacheInvalidationService) Stop() {
	s.cancel()
	observability.GetLogger().Info().Msg("Cache invalidation service stopped")
}

func (s *CacheInvalidationService) processEvents(eventChan <-chan *entities.FlowEvent) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-eventChan:
			if event == nil {
				continue
			}
			s.handleEvent(event)
		}
	}
}

func (s *CacheInvalidationService) handleEvent(event *entities.FlowEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "flow.cache.invalidate")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("integration_id", event.IntegrationID),
		attribute.String("event_type", string(event.EventType)),
	)

	log := observability.GetLogger()
	pattern := actionCachePattern(event.IntegrationID)
	if err := s.cache.DeletePattern(ctx, pattern); err != nil {
		observability.RecordError(span, err)
		log.Warn().
			Err(err).
			Str("integration_id", event.IntegrationID).
			Str("event_type", string(event.EventType)).
			Msg("Failed to invalidate action cache")
		return
	}
	log.Debug().
		Str("integration_id", event.IntegrationID).
		Str("event_type", string(event.EventType)).
		Msg("Invalidated action cache")
}
