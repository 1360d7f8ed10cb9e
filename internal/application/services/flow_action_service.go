package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agendaflow/backend/internal/domain/entities"
	"github.com/agendaflow/backend/internal/domain/providers"
	"github.com/agendaflow/backend/internal/infrastructure/observability"
)

// FlowActionService resolves the ordered action list produced by a matching
// context, backed by a query-result cache. The cache is a pure performance
// optimization: every cache failure is soft and falls back to recomputation.
type FlowActionService struct {
	matcher     *FlowMatchingService
	cache       providers.CacheProvider
	transformer providers.ActionTransformer
	metrics     *observability.Metrics
	ttlSeconds  int
}

// NewFlowActionService creates a new flow action service
func NewFlowActionService(
	matcher *FlowMatchingService,
	cache providers.CacheProvider,
	transformer providers.ActionTransformer,
	metrics *observability.Metrics,
	ttlSeconds int,
) *FlowActionService {
	if transformer == nil {
		transformer = providers.NoopActionTransformer{}
	}
	return &FlowActionService{
		matcher:     matcher,
		cache:       cache,
		transformer: transformer,
		metrics:     metrics,
		ttlSeconds:  ttlSeconds,
	}
}

// cachedActions is the cache envelope. Empty distinguishes a cached empty
// result from a cache miss.
type cachedActions struct {
	Empty   bool                  `json:"empty"`
	Actions []entities.FlowAction `json:"actions,omitempty"`
}

// MatchFlowsAndGetActions returns the merged action list of every matched
// action flow, with extraActions (caller-supplied) inserted first, passed
// through the action transformer. Structurally identical calls are served
// from cache without a second store query.
func (s *FlowActionService) MatchFlowsAndGetActions(
	ctx context.Context,
	q FlowQuery,
	extraActions []entities.FlowAction,
) ([]entities.FlowAction, error) {
	log := observability.LoggerFromContext(ctx)

	now := q.Context.Now
	if now.IsZero() {
		now = time.Now()
	}
	key, keyErr := s.cacheKey(q, extraActions, now)
	if keyErr == nil {
		if cached, ok := s.readCache(ctx, key); ok {
			if s.metrics != nil {
				s.metrics.CacheHitCount.Add(ctx, 1)
			}
			return cached, nil
		}
		if s.metrics != nil {
			s.metrics.CacheMissCount.Add(ctx, 1)
		}
	} else {
		log.Warn().Err(keyErr).Msg("Failed to build action cache key, skipping cache")
	}

	action := entities.FlowTypeAction
	q.TypeOverride = &action
	flows, err := s.matcher.SelectFlows(ctx, q)
	if err != nil {
		return nil, err
	}

	if len(flows) == 0 && len(extraActions) == 0 {
		if keyErr == nil {
			s.writeCache(ctx, key, nil)
		}
		return []entities.FlowAction{}, nil
	}

	actions := append([]entities.FlowAction{}, extraActions...)
	for _, f := range flows {
		actions = append(actions, f.Actions...)
	}

	transformed, err := s.transformer.Transform(ctx, actions)
	if err != nil {
		return nil, fmt.Errorf("failed to transform flow actions: %w", err)
	}

	if keyErr == nil {
		s.writeCache(ctx, key, transformed)
	}
	return transformed, nil
}

// InvalidateIntegration drops every cached action result for a tenant. Called
// by the sync service before a draft sync or publish returns.
func (s *FlowActionService) InvalidateIntegration(ctx context.Context, integrationID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.DeletePattern(ctx, actionCachePattern(integrationID))
}

func (s *FlowActionService) readCache(ctx context.Context, key string) ([]entities.FlowAction, bool) {
	if s.cache == nil {
		return nil, false
	}
	log := observability.LoggerFromContext(ctx)

	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var envelope cachedActions
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Corrupt action cache entry, recomputing")
		return nil, false
	}
	if envelope.Empty {
		return []entities.FlowAction{}, true
	}
	return envelope.Actions, true
}

func (s *FlowActionService) writeCache(ctx context.Context, key string, actions []entities.FlowAction) {
	if s.cache == nil {
		return
	}
	envelope := cachedActions{Empty: len(actions) == 0, Actions: actions}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttlSeconds); err != nil {
		// Cache writes never fail the call.
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("key", key).Msg("Failed to write action cache")
	}
}

// cacheKey hashes the full match context. Go's JSON encoder writes map keys
// in sorted order, so structurally identical inputs produce identical keys.
// The evaluation clock is bucketed to the minute: full precision would defeat
// caching, while the bucket keeps a closing executeUntil or runBetween window
// from serving stale actions for longer than a minute.
func (s *FlowActionService) cacheKey(q FlowQuery, extraActions []entities.FlowAction, now time.Time) (string, error) {
	payload := struct {
		IntegrationID string                           `json:"integration_id"`
		Channel       entities.ChannelKind             `json:"channel"`
		Filter        entities.CorrelationFilter       `json:"filter"`
		TargetKinds   []entities.EntityKind            `json:"target_kinds"`
		PatientAge    *int                             `json:"patient_age"`
		PatientSex    string                           `json:"patient_sex"`
		PatientCPF    string                           `json:"patient_cpf"`
		PeriodOfDay   entities.PeriodOfDay             `json:"period_of_day"`
		Trigger       string                           `json:"trigger"`
		ExactIDs      map[entities.EntityKind][]string `json:"exact_ids"`
		ExtraActions  []entities.FlowAction            `json:"extra_actions"`
		ClockBucket   string                           `json:"clock_bucket"`
	}{
		IntegrationID: q.IntegrationID,
		Channel:       q.Channel,
		Filter:        q.Filter,
		TargetKinds:   q.TargetKinds,
		PatientAge:    q.Context.PatientAge,
		PatientSex:    q.Context.PatientSex,
		PatientCPF:    q.Context.PatientCPF,
		PeriodOfDay:   q.Context.PeriodOfDay,
		Trigger:       q.Context.Trigger,
		ExactIDs:      q.ExactIDs,
		ExtraActions:  extraActions,
		ClockBucket:   now.UTC().Truncate(time.Minute).Format(time.RFC3339),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("flows:actions:%s:%s", q.IntegrationID, hex.EncodeToString(sum[:])), nil
}

func actionCachePattern(integrationID string) string {
	return fmt.Sprintf("flows:actions:%s:*", integrationID)
}
