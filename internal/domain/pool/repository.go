package pool

import "context"

type Repository interface {
	Create(ctx context.Context, p *Pool) error
	GetByPoolID(ctx context.Context, poolID string) (*Pool, error)
	// GetByPoolIDForUpdate row-locks the pool for the rest of the transaction.
	GetByPoolIDForUpdate(ctx context.Context, poolID string) (*Pool, error)
	Save(ctx context.Context, p *Pool) error
}

type EventRepository interface {
	Append(ctx context.Context, events []Event) error
	ListByPoolID(ctx context.Context, poolID string, limit int) ([]Event, error)
	// Delete removes recorded events by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error
}
