package services

import (
	"context"
	"time"

	"github.com/agendaflow/backend/internal/domain/entities"
	"github.com/agendaflow/backend/internal/infrastructure/observability"
)

// FlowEngineService is the entry point ERP adapters and the API layer call:
// it selects the tenant's matching flows and applies them to a candidate
// batch, returning the filtered batch plus the executed-flows audit map.
type FlowEngineService struct {
	matcher *FlowMatchingService
	applier *FlowApplyService
	metrics *observability.Metrics
}

// NewFlowEngineService creates a new flow engine service
func NewFlowEngineService(matcher *FlowMatchingService, applier *FlowApplyService, metrics *observability.Metrics) *FlowEngineService {
	return &FlowEngineService{
		matcher: matcher,
		applier: applier,
		metrics: metrics,
	}
}

// MatchEntitiesFlows filters a batch of candidate entities (doctors,
// procedures, insurance plans, ...) through the tenant's flows. targetKind is
// the kind of the batch; forceTarget, when non-nil, overrides the kind used
// for reference-list lookups during apply. A query matching no flows returns
// the input unchanged.
func (s *FlowEngineService) MatchEntitiesFlows(
	ctx context.Context,
	q FlowQuery,
	targetKind entities.EntityKind,
	items []*entities.FlowItem,
	forceTarget *entities.EntityKind,
) ([]*entities.FlowItem, entities.ExecutedFlows, error) {
	log := observability.LoggerFromContext(ctx)
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.MatchCount.Add(ctx, 1)
			s.metrics.MatchDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
		}
	}()

	q.TargetKinds = []entities.EntityKind{targetKind}
	flows, err := s.matcher.SelectFlows(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	if len(flows) == 0 {
		return items, entities.ExecutedFlows{}, nil
	}

	applyTarget := targetKind
	if forceTarget != nil {
		applyTarget = *forceTarget
	}

	kept, executed := s.applier.ApplyFlows(ApplyInput{
		Items:            items,
		Flows:            flows,
		Filter:           q.Filter,
		Target:           applyTarget,
		TargetOverridden: forceTarget != nil,
	})

	log.Debug().
		Str("integration_id", q.IntegrationID).
		Str("target_kind", string(targetKind)).
		Int("candidates", len(items)).
		Int("kept", len(kept)).
		Int("flows_executed", len(executed)).
		Msg("Applied entity flows")

	return kept, executed, nil
}

// MatchAppointmentsFlows filters raw appointment slots through the tenant's
// flows, keyed by the slot's doctor and organization unit. Flow selection is
// restricted to flows whose reference lists intersect the identifiers present
// in the batch, so rules for absent doctors never fire.
func (s *FlowEngineService) MatchAppointmentsFlows(
	ctx context.Context,
	q FlowQuery,
	targetKind entities.EntityKind,
	slots []entities.AppointmentSlot,
) ([]entities.AppointmentSlot, entities.ExecutedFlows, error) {
	if q.ExactIDs == nil {
		q.ExactIDs = map[entities.EntityKind][]string{}
	}
	if ids := slotIDs(slots, entities.KindDoctor); len(ids) > 0 {
		q.ExactIDs[entities.KindDoctor] = ids
	}
	if ids := slotIDs(slots, entities.KindOrganizationUnit); len(ids) > 0 {
		q.ExactIDs[entities.KindOrganizationUnit] = ids
	}

	items := make([]*entities.FlowItem, len(slots))
	for i, slot := range slots {
		items[i] = &entities.FlowItem{
			ID: slot.ID,
			Keys: map[entities.EntityKind]string{
				entities.KindDoctor:           slot.DoctorID,
				entities.KindOrganizationUnit: slot.OrganizationUnitID,
			},
		}
	}

	kept, executed, err := s.MatchEntitiesFlows(ctx, q, targetKind, items, nil)
	if err != nil {
		return nil, nil, err
	}

	bySlot := make(map[string]*entities.FlowItem, len(kept))
	for _, item := range kept {
		bySlot[item.ID] = item
	}
	var out []entities.AppointmentSlot
	for _, slot := range slots {
		item, ok := bySlot[slot.ID]
		if !ok {
			continue
		}
		if len(item.Actions) > 0 {
			slot.Actions = append(append([]entities.FlowAction{}, slot.Actions...), item.Actions...)
		}
		out = append(out, slot)
	}
	return out, executed, nil
}

// GetFlowsByCorrelation returns the correlation-type flows matching the
// filter. These are lookup rules used by entity reference resolvers; they are
// never applied to candidates.
func (s *FlowEngineService) GetFlowsByCorrelation(
	ctx context.Context,
	integrationID string,
	channel entities.ChannelKind,
	filter entities.CorrelationFilter,
	targetKind entities.EntityKind,
) ([]*entities.Flow, error) {
	correlation := entities.FlowTypeCorrelation
	return s.matcher.SelectFlows(ctx, FlowQuery{
		IntegrationID: integrationID,
		Channel:       channel,
		Filter:        filter,
		TargetKinds:   []entities.EntityKind{targetKind},
		TypeOverride:  &correlation,
	})
}

func slotIDs(slots []entities.AppointmentSlot, kind entities.EntityKind) []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, slot := range slots {
		var id string
		switch kind {
		case entities.KindDoctor:
			id = slot.DoctorID
		case entities.KindOrganizationUnit:
			id = slot.OrganizationUnitID
		}
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
