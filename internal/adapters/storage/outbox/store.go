package outbox

import (
	"context"

	domain "studiobook/internal/domain/outbox"
)

// Store defines the interface for outbox entry persistence.
type Store interface {
	// GetByID retrieves an outbox entry by its ID.
	GetByID(ctx context.Context, id string) (domain.Entry, error)

	// Save persists an outbox entry (insert or update).
	Save(ctx context.Context, e domain.Entry) error

	// ListPending returns entries that need to be processed (pending or
	// retrying), oldest first, up to limit.
	ListPending(ctx context.Context, limit int) ([]domain.Entry, error)

	// ListFailed returns entries that have permanently failed, most
	// recently attempted first, up to limit.
	ListFailed(ctx context.Context, limit int) ([]domain.Entry, error)

	// Delete removes an outbox entry.
	// PRE: entry is in a terminal state
	Delete(ctx context.Context, id string) error
}
