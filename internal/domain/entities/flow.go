package entities

import (
	"encoding/json"
	"time"
)

// FlowType governs how a matched flow is used during evaluation.
type FlowType string

const (
	// FlowTypeCorrelation marks lookup-only rules consumed by entity
	// reference resolvers; they are never executed against candidates.
	FlowTypeCorrelation FlowType = "correlation"
	FlowTypeAction      FlowType = "action"
	FlowTypeOmit        FlowType = "omit"
	FlowTypeIncludeOnly FlowType = "includeOnly"
)

// FlowActionType enumerates the effects an action flow can carry.
type FlowActionType string

const (
	FlowActionTag               FlowActionType = "tag"
	FlowActionPostback          FlowActionType = "postback"
	FlowActionAttribute         FlowActionType = "attribute"
	FlowActionGoto              FlowActionType = "goto"
	FlowActionText              FlowActionType = "text"
	FlowActionRules             FlowActionType = "rules"
	FlowActionRulesConfirmation FlowActionType = "rulesConfirmation"
)

// FlowAction is one effect carried by an action flow. Element is an opaque
// payload interpreted by the channel layer (message text, tag name, etc.).
type FlowAction struct {
	Type    FlowActionType  `json:"type"`
	Element json.RawMessage `json:"element,omitempty"`
}

// PeriodOfDay buckets a time of day. It is both a flow constraint and a
// grouping key for slot distribution.
type PeriodOfDay string

const (
	PeriodAny       PeriodOfDay = "any"
	PeriodMorning   PeriodOfDay = "morning"
	PeriodAfternoon PeriodOfDay = "afternoon"
	PeriodNight     PeriodOfDay = "night"
)

// ChannelKind selects which flow generation a read sees. Production traffic
// reads the published generation; homolog channels read drafts.
type ChannelKind string

const (
	ChannelProduction ChannelKind = "production"
	ChannelHomolog    ChannelKind = "homolog"
)

// Flow is a declarative rule scoped to one integration (tenant). Each entry
// in References is an allow-list of entity identifiers for one dimension; an
// absent or empty list is a wildcard for that dimension, unless the dimension
// appears in OpposeStep, which inverts the match test for that one flow.
type Flow struct {
	ID            string                  `json:"id" db:"id"`
	IntegrationID string                  `json:"integration_id" db:"integration_id"`
	Type          FlowType                `json:"type" db:"type"`
	References    map[EntityKind][]string `json:"references" db:"references"`
	Step          []EntityKind            `json:"step" db:"step"`
	OpposeStep    []EntityKind            `json:"oppose_step" db:"oppose_step"`

	MinimumAge      *int        `json:"minimum_age" db:"minimum_age"`
	MaximumAge      *int        `json:"maximum_age" db:"maximum_age"`
	PeriodOfDay     PeriodOfDay `json:"period_of_day" db:"period_of_day"`
	PatientSex      string      `json:"patient_sex" db:"patient_sex"`
	CPFs            []string    `json:"cpfs" db:"cpfs"`
	ExecuteFrom     *time.Time  `json:"execute_from" db:"execute_from"`
	ExecuteUntil    *time.Time  `json:"execute_until" db:"execute_until"`
	RunBetweenStart string      `json:"run_between_start" db:"run_between_start"`
	RunBetweenEnd   string      `json:"run_between_end" db:"run_between_end"`
	Trigger         string      `json:"trigger" db:"trigger"`

	Actions []FlowAction `json:"actions" db:"actions"`

	Inactive    bool       `json:"inactive" db:"inactive"`
	DeletedAt   *time.Time `json:"deleted_at" db:"deleted_at"`
	Position    int        `json:"position" db:"position"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	PublishedAt *time.Time `json:"published_at" db:"published_at"`
}

// ReferenceIDs returns the allow-list for a dimension, nil when wildcard.
func (f *Flow) ReferenceIDs(kind EntityKind) []string {
	if f.References == nil {
		return nil
	}
	return f.References[kind]
}

// HasReference reports whether the flow pins a dimension to an explicit
// non-empty allow-list.
func (f *Flow) HasReference(kind EntityKind) bool {
	return len(f.ReferenceIDs(kind)) > 0
}

// ContainsReference reports whether id appears in the dimension's list.
func (f *Flow) ContainsReference(kind EntityKind, id string) bool {
	for _, ref := range f.ReferenceIDs(kind) {
		if ref == id {
			return true
		}
	}
	return false
}

// Opposes reports whether the match test for kind is inverted for this flow.
func (f *Flow) Opposes(kind EntityKind) bool {
	for _, k := range f.OpposeStep {
		if k == kind {
			return true
		}
	}
	return false
}

// AppliesToStep reports whether the flow's step allow-list intersects the
// requested target kinds. An empty step applies to every kind.
func (f *Flow) AppliesToStep(targets []EntityKind) bool {
	if len(f.Step) == 0 {
		return true
	}
	for _, s := range f.Step {
		for _, t := range targets {
			if s == t {
				return true
			}
		}
	}
	return false
}

// IsDisabled reports whether the flow is soft-deleted or inactive. Disabled
// flows never match.
func (f *Flow) IsDisabled() bool {
	return f.Inactive || f.DeletedAt != nil
}

// ExecutedFlows records which flows fired during one matching call, keyed by
// flow id. Append-only within a call.
type ExecutedFlows map[string]FlowType

// Record adds a fired flow; later recordings of the same flow are no-ops.
func (e ExecutedFlows) Record(f *Flow) {
	if _, ok := e[f.ID]; !ok {
		e[f.ID] = f.Type
	}
}
