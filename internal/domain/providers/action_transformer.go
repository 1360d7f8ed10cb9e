package providers

import (
	"context"

	"github.com/agendaflow/backend/internal/domain/entities"
)

// ActionTransformer normalizes or enriches resolved flow actions before they
// are returned to the caller (currency formatting, templating, and so on).
// It is an external collaborator; the engine runs it as-is.
type ActionTransformer interface {
	Transform(ctx context.Context, actions []entities.FlowAction) ([]entities.FlowAction, error)
}

// NoopActionTransformer returns actions unchanged.
type NoopActionTransformer struct{}

// Transform implements ActionTransformer.
func (NoopActionTransformer) Transform(_ context.Context, actions []entities.FlowAction) ([]entities.FlowAction, error) {
	return actions, nil
}
