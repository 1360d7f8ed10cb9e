package services

import (
	"github.com/agendaflow/backend/internal/domain/entities"
)

// FlowApplyService applies matched flows to a batch of candidate items. It is
// pure over its inputs: items are copied before actions are attached, and the
// executed-flows audit map is built per call.
type FlowApplyService struct{}

// NewFlowApplyService creates a new flow apply service
func NewFlowApplyService() *FlowApplyService {
	return &FlowApplyService{}
}

// ApplyInput bundles the arguments of one apply pass.
type ApplyInput struct {
	Items  []*entities.FlowItem
	Flows  []*entities.Flow
	Filter entities.CorrelationFilter
	Target entities.EntityKind

	// TargetOverridden records that the caller forced the apply target kind;
	// an opposed action flow with no reference list only fires when the
	// target was not overridden.
	TargetOverridden bool
}

// ApplyFlows runs the two-phase pass: an includeOnly gate, then an ordered
// action/omit pass with first-match-wins semantics per item. Items keep their
// input order; dropped items do not appear in the result.
func (s *FlowApplyService) ApplyFlows(in ApplyInput) ([]*entities.FlowItem, entities.ExecutedFlows) {
	executed := entities.ExecutedFlows{}

	survivors := s.applyIncludeOnly(in, executed)

	var kept []*entities.FlowItem
	for _, item := range survivors {
		out, skipped := s.applyActionsAndOmits(item, in, executed)
		if !skipped {
			kept = append(kept, out)
		}
	}
	return kept, executed
}

// applyIncludeOnly keeps only items listed by some matched includeOnly flow.
// The gate is armed only when the caller supplied at least one filter
// dimension, so an unscoped call is never accidentally narrowed to nothing.
func (s *FlowApplyService) applyIncludeOnly(in ApplyInput, executed entities.ExecutedFlows) []*entities.FlowItem {
	if in.Filter.IsEmpty() {
		return in.Items
	}
	var gates []*entities.Flow
	for _, f := range in.Flows {
		if f.Type == entities.FlowTypeIncludeOnly {
			gates = append(gates, f)
		}
	}
	if len(gates) == 0 {
		return in.Items
	}

	var kept []*entities.FlowItem
	for _, item := range in.Items {
		for _, f := range gates {
			if f.ContainsReference(in.Target, item.Key(in.Target)) {
				executed.Record(f)
				kept = append(kept, item)
				break
			}
		}
	}
	return kept
}

// applyActionsAndOmits walks action and omit flows in retrieval order. The
// first action flow that fires attaches its actions and stops the walk for
// that item; an omit flow that fires drops the item.
func (s *FlowApplyService) applyActionsAndOmits(item *entities.FlowItem, in ApplyInput, executed entities.ExecutedFlows) (*entities.FlowItem, bool) {
	id := item.Key(in.Target)
	for _, f := range in.Flows {
		switch f.Type {
		case entities.FlowTypeAction:
			if s.actionFires(f, in, id) {
				executed.Record(f)
				return withActions(item, f.Actions), false
			}
		case entities.FlowTypeOmit:
			if s.omitFires(f, in, id) {
				executed.Record(f)
				return nil, true
			}
		}
	}
	return item, false
}

func (s *FlowApplyService) actionFires(f *entities.Flow, in ApplyInput, id string) bool {
	listed := f.ContainsReference(in.Target, id)
	if f.Opposes(in.Target) {
		if f.HasReference(in.Target) {
			return !listed
		}
		return !in.TargetOverridden
	}
	if f.HasReference(in.Target) {
		return listed
	}
	return true
}

func (s *FlowApplyService) omitFires(f *entities.Flow, in ApplyInput, id string) bool {
	listed := f.ContainsReference(in.Target, id)
	if f.Opposes(in.Target) {
		if f.HasReference(in.Target) {
			return !listed
		}
		return matchesAnyOtherDimension(f, in.Filter, in.Target)
	}
	if f.HasReference(in.Target) {
		return listed
	}
	return matchesAnyOtherDimension(f, in.Filter, in.Target)
}

// matchesAnyOtherDimension reports whether any supplied filter dimension other
// than the ignored one appears in the flow's reference lists. An unknown
// ignored kind yields false.
// TODO: confirm with product whether a single generic dimension match should
// be enough to fire an omit here, or whether every relevant dimension must
// match.
func matchesAnyOtherDimension(f *entities.Flow, filter entities.CorrelationFilter, ignore entities.EntityKind) bool {
	if !entities.IsKnownKind(ignore) {
		return false
	}
	for _, kind := range entities.AllEntityKinds() {
		if kind == ignore {
			continue
		}
		e := filter[kind]
		if e == nil {
			continue
		}
		if f.ContainsReference(kind, e.ID) {
			return true
		}
	}
	return false
}

func withActions(item *entities.FlowItem, actions []entities.FlowAction) *entities.FlowItem {
	if len(actions) == 0 {
		return item
	}
	out := *item
	out.Actions = append(append([]entities.FlowAction{}, item.Actions...), actions...)
	return &out
}
