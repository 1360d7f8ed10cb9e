package entities

import "time"

// FlowEventType identifies what happened to a tenant's flow set.
type FlowEventType string

const (
	FlowEventDraftSynced FlowEventType = "draft_synced"
	FlowEventPublished   FlowEventType = "published"
)

// FlowEvent is broadcast after a draft sync or publish so every instance can
// drop its cached action results for the tenant.
type FlowEvent struct {
	ID            string        `json:"id"`
	IntegrationID string        `json:"integration_id"`
	EventType     FlowEventType `json:"event_type"`
	OccurredAt    time.Time     `json:"occurred_at"`
}
