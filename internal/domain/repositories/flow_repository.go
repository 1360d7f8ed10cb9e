package repositories

import (
	"context"
	"time"

	"github.com/agendaflow/backend/internal/domain/entities"
)

// FlowRepository is the persistence port for flow rules. Records live in two
// generations per tenant: draft (mutable) and published (the read-only
// snapshot production traffic matches against).
type FlowRepository interface {
	// ListByIntegration returns the tenant's enabled flows for the given
	// channel (production reads published, homolog reads drafts), excluding
	// soft-deleted and inactive records, in stable insertion order.
	ListByIntegration(ctx context.Context, integrationID string, channel entities.ChannelKind) ([]*entities.Flow, error)

	// ListDrafts returns every draft record for the tenant, including
	// soft-deleted and inactive ones, for editor/audit listings.
	ListDrafts(ctx context.Context, integrationID string) ([]*entities.Flow, error)

	// UpsertDraft inserts or replaces draft records keyed by id. Soft-deleted
	// incoming records are stored with deleted_at set, never removed.
	UpsertDraft(ctx context.Context, flows []*entities.Flow) error

	// Publish atomically replaces the tenant's published generation with its
	// current enabled drafts, stamped with publishedAt. Runs inside a single
	// transaction; on error the published generation is untouched.
	Publish(ctx context.Context, integrationID string, publishedAt time.Time) (int, error)

	// CountPublished returns the size of the tenant's published generation.
	CountPublished(ctx context.Context, integrationID string) (int, error)
}
