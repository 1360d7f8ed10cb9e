package providers

import (
	"context"

	"github.com/agendaflow/backend/internal/domain/entities"
)

const (
	// EventChannelFlowUpdates carries draft-sync and publish notifications.
	EventChannelFlowUpdates = "flow:updates"
)

// EventBus defines the interface for publishing and subscribing to flow
// lifecycle events across instances.
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.FlowEvent) error

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.FlowEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}
