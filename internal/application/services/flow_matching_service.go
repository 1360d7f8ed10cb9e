package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agendaflow/backend/internal/domain/entities"
	"github.com/agendaflow/backend/internal/domain/repositories"
	apperrors "github.com/agendaflow/backend/pkg/errors"
)

// FlowQuery carries every input of one flow selection: the tenant, the
// channel (draft vs. published generation), the resolved correlation filter,
// the target entity kinds, and the scalar matching context.
type FlowQuery struct {
	IntegrationID string
	Channel       entities.ChannelKind
	Filter        entities.CorrelationFilter
	TargetKinds   []entities.EntityKind
	Context       entities.MatchContext

	// TypeOverride restricts selection to a single flow type. When nil,
	// correlation flows are excluded: they are lookup-only rules.
	TypeOverride *entities.FlowType

	// ExactIDs restricts a dimension's reference list to intersect the given
	// allow-list, e.g. the doctors present in the current appointment batch.
	ExactIDs map[entities.EntityKind][]string

	// IgnoreUnmatched exempts dimensions from the unmatched-kind emptiness
	// requirement.
	IgnoreUnmatched []entities.EntityKind
}

// FlowMatchingService evaluates which flows apply to a correlation filter and
// scalar context. The store performs only the coarse pre-filter (tenant,
// generation, enabled); every fine-grained rule is an in-memory predicate, so
// the logic stays portable and testable.
type FlowMatchingService struct {
	repo repositories.FlowRepository
}

// NewFlowMatchingService creates a new flow matching service
func NewFlowMatchingService(repo repositories.FlowRepository) *FlowMatchingService {
	return &FlowMatchingService{repo: repo}
}

// SelectFlows returns the tenant's flows matching the query, in stable store
// retrieval order. A query that matches nothing returns an empty slice, not
// an error.
func (s *FlowMatchingService) SelectFlows(ctx context.Context, q FlowQuery) ([]*entities.Flow, error) {
	if q.IntegrationID == "" {
		return nil, apperrors.NewValidationError("integration id is required")
	}
	if err := q.Filter.Validate(); err != nil {
		return nil, err
	}
	for _, k := range q.TargetKinds {
		if !entities.IsKnownKind(k) {
			return nil, entities.ErrUnknownEntityKind(string(k))
		}
	}

	flows, err := s.repo.ListByIntegration(ctx, q.IntegrationID, q.Channel)
	if err != nil {
		return nil, err
	}

	now := q.Context.Now
	if now.IsZero() {
		now = time.Now()
	}

	var matched []*entities.Flow
	for _, f := range flows {
		if f.IsDisabled() {
			continue
		}
		if q.TypeOverride != nil {
			if f.Type != *q.TypeOverride {
				continue
			}
		} else if f.Type == entities.FlowTypeCorrelation {
			continue
		}
		if s.matches(f, q, now) {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

func (s *FlowMatchingService) matches(f *entities.Flow, q FlowQuery, now time.Time) bool {
	if !f.AppliesToStep(q.TargetKinds) {
		return false
	}
	if f.Trigger != q.Context.Trigger {
		return false
	}
	for _, kind := range q.Filter.MatchedKinds() {
		if !matchesDimension(f, kind, q.Filter[kind].ID) {
			return false
		}
	}
	for _, kind := range q.Filter.UnmatchedKinds() {
		if containsKind(q.TargetKinds, kind) || containsKind(q.IgnoreUnmatched, kind) {
			continue
		}
		// A flow pinning a dimension the caller did not supply cannot match;
		// this prevents accidental cross-matching outside the target kinds.
		if f.HasReference(kind) {
			return false
		}
	}
	if !matchesScalars(f, q.Context, now) {
		return false
	}
	for kind, allowed := range q.ExactIDs {
		if f.HasReference(kind) && !intersects(f.ReferenceIDs(kind), allowed) {
			return false
		}
	}
	return true
}

// matchesDimension evaluates one supplied filter dimension against a flow.
// Non-opposed: an absent or empty reference list is a wildcard, otherwise the
// list must contain the id. Opposed: a strict logical NOT of the above, so an
// opposed wildcard never matches.
func matchesDimension(f *entities.Flow, kind entities.EntityKind, id string) bool {
	contains := f.ContainsReference(kind, id)
	satisfied := !f.HasReference(kind) || contains
	if f.Opposes(kind) {
		return !satisfied
	}
	return satisfied
}

func matchesScalars(f *entities.Flow, mc entities.MatchContext, now time.Time) bool {
	if f.MinimumAge != nil || f.MaximumAge != nil {
		if mc.PatientAge == nil {
			return false
		}
		if f.MinimumAge != nil && *mc.PatientAge < *f.MinimumAge {
			return false
		}
		if f.MaximumAge != nil && *mc.PatientAge > *f.MaximumAge {
			return false
		}
	}
	if f.PeriodOfDay != "" && f.PeriodOfDay != entities.PeriodAny && f.PeriodOfDay != mc.PeriodOfDay {
		return false
	}
	if f.PatientSex != "" && !strings.EqualFold(f.PatientSex, mc.PatientSex) {
		return false
	}
	if len(f.CPFs) > 0 && !containsString(f.CPFs, mc.PatientCPF) {
		return false
	}
	if f.ExecuteFrom != nil && now.Before(*f.ExecuteFrom) {
		return false
	}
	if f.ExecuteUntil != nil && now.After(*f.ExecuteUntil) {
		return false
	}
	if f.RunBetweenStart != "" && f.RunBetweenEnd != "" {
		ok, err := timeOfDayWithin(now, f.RunBetweenStart, f.RunBetweenEnd)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// timeOfDayWithin reports whether now's time of day falls inside the
// inclusive [start, end] window. A window with start after end wraps past
// midnight.
func timeOfDayWithin(now time.Time, start, end string) (bool, error) {
	startMin, err := parseClock(start)
	if err != nil {
		return false, err
	}
	endMin, err := parseClock(end)
	if err != nil {
		return false, err
	}
	nowMin := now.Hour()*60 + now.Minute()
	if startMin <= endMin {
		return nowMin >= startMin && nowMin <= endMin, nil
	}
	return nowMin >= startMin || nowMin <= endMin, nil
}

func parseClock(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", v, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", v, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", v)
	}
	return h*60 + m, nil
}

func containsKind(kinds []entities.EntityKind, kind entities.EntityKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
