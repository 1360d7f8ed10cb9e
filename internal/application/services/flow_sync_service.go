package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agendaflow/backend/internal/domain/entities"
	"github.com/agendaflow/backend/internal/domain/providers"
	"github.com/agendaflow/backend/internal/domain/repositories"
	"github.com/agendaflow/backend/internal/infrastructure/observability"
	apperrors "github.com/agendaflow/backend/pkg/errors"
)

const syncBatchSize = 50

// FlowSyncService moves flow records through the draft -> published
// lifecycle. Drafts are freely upserted (soft deletes included, for audit);
// publishing replaces the tenant's published generation atomically.
type FlowSyncService struct {
	repo    repositories.FlowRepository
	actions *FlowActionService
	bus     providers.EventBus
	metrics *observability.Metrics
}

// NewFlowSyncService creates a new flow sync service
func NewFlowSyncService(repo repositories.FlowRepository, actions *FlowActionService, bus providers.EventBus, metrics *observability.Metrics) *FlowSyncService {
	return &FlowSyncService{
		repo:    repo,
		actions: actions,
		bus:     bus,
		metrics: metrics,
	}
}

// SyncDraft upserts the incoming records into the tenant's draft generation,
// keyed by id. Records arriving soft-deleted are stored with deleted_at set
// rather than removed. Batches run concurrently; any batch error fails the
// call, but batches already written stay written (drafts are eventually
// consistent and never read by production traffic).
func (s *FlowSyncService) SyncDraft(ctx context.Context, integrationID string, flows []*entities.Flow) error {
	if integrationID == "" {
		return apperrors.NewValidationError("integration id is required")
	}
	log := observability.LoggerFromContext(ctx)

	now := time.Now()
	for i, f := range flows {
		if f == nil {
			return apperrors.NewValidationError("flow record is nil")
		}
		if f.Type == "" {
			return apperrors.NewValidationError("flow type is required")
		}
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		f.IntegrationID = integrationID
		f.Position = i
		f.UpdatedAt = now
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for start := 0; start < len(flows); start += syncBatchSize {
		end := start + syncBatchSize
		if end > len(flows) {
			end = len(flows)
		}
		batch := flows[start:end]

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.repo.UpsertDraft(ctx, batch); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}

	s.invalidate(ctx, integrationID)
	s.emit(ctx, integrationID, entities.FlowEventDraftSynced)

	log.Info().
		Str("integration_id", integrationID).
		Int("records", len(flows)).
		Msg("Synced flow drafts")
	return nil
}

// Publish promotes the tenant's enabled drafts to the published generation in
// one transaction. On failure the published generation is exactly as before;
// the action cache is invalidated on success only.
func (s *FlowSyncService) Publish(ctx context.Context, integrationID string) error {
	if integrationID == "" {
		return apperrors.NewValidationError("integration id is required")
	}
	log := observability.LoggerFromContext(ctx)

	published, err := s.repo.Publish(ctx, integrationID, time.Now())
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.PublishCount.Add(ctx, 1)
	}

	s.invalidate(ctx, integrationID)
	s.emit(ctx, integrationID, entities.FlowEventPublished)

	log.Info().
		Str("integration_id", integrationID).
		Int("records", published).
		Msg("Published flow generation")
	return nil
}

// invalidate drops the tenant's cached action results. Cache failures are
// soft: the cache is an optimization, never a correctness dependency.
func (s *FlowSyncService) invalidate(ctx context.Context, integrationID string) {
	if s.actions == nil {
		return
	}
	if err := s.actions.InvalidateIntegration(ctx, integrationID); err != nil {
		observability.LoggerFromContext(ctx).Warn().
			Err(err).
			Str("integration_id", integrationID).
			Msg("Failed to invalidate action cache")
	}
}

// emit broadcasts the lifecycle event so other instances drop their caches.
// Best effort.
func (s *FlowSyncService) emit(ctx context.Context, integrationID string, eventType entities.FlowEventType) {
	if s.bus == nil {
		return
	}
	event := &entities.FlowEvent{
		ID:            uuid.New().String(),
		IntegrationID: integrationID,
		EventType:     eventType,
		OccurredAt:    time.Now(),
	}
	if err := s.bus.Publish(ctx, providers.EventChannelFlowUpdates, event); err != nil {
		observability.LoggerFromContext(ctx).Warn().
			Err(err).
			Str("integration_id", integrationID).
			Msg("Failed to publish flow event")
	}
}
