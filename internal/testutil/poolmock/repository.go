package poolmock

import (
	"context"

	domain "lending-pool/internal/domain/pool"

	"github.com/ethereum/go-ethereum/common"
)

var (
	_ domain.Repository       = (*Repo)(nil)
	_ domain.EventRepository  = (*EventRepo)(nil)
	_ domain.ComplianceOracle = (*Oracle)(nil)
)

// Repo is a function-backed mock that satisfies domain.Repository.
type Repo struct {
	CreateFn               func(ctx context.Context, p *domain.Pool) error
	GetByPoolIDFn          func(ctx context.Context, poolID string) (*domain.Pool, error)
	GetByPoolIDForUpdateFn func(ctx context.Context, poolID string) (*domain.Pool, error)
	SaveFn                 func(ctx context.Context, p *domain.Pool) error
}

func (m *Repo) Create(ctx context.Context, p *domain.Pool) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, p)
	}
	return nil
}

func (m *Repo) GetByPoolID(ctx context.Context, poolID string) (*domain.Pool, error) {
	if m.GetByPoolIDFn != nil {
		return m.GetByPoolIDFn(ctx, poolID)
	}
	return nil, domain.ErrNotFound
}

func (m *Repo) GetByPoolIDForUpdate(ctx context.Context, poolID string) (*domain.Pool, error) {
	if m.GetByPoolIDForUpdateFn != nil {
		return m.GetByPoolIDForUpdateFn(ctx, poolID)
	}
	return nil, domain.ErrNotFound
}

func (m *Repo) Save(ctx context.Context, p *domain.Pool) error {
	if m.SaveFn != nil {
		return m.SaveFn(ctx, p)
	}
	return nil
}

// EventRepo is a function-backed mock that satisfies domain.EventRepository.
type EventRepo struct {
	AppendFn       func(ctx context.Context, events []domain.Event) error
	ListByPoolIDFn func(ctx context.Context, poolID string, limit int) ([]domain.Event, error)
	DeleteFn       func(ctx context.Context, ids []string) error
}

func (m *EventRepo) Append(ctx context.Context, events []domain.Event) error {
	if m.AppendFn != nil {
		return m.AppendFn(ctx, events)
	}
	return nil
}

func (m *EventRepo) ListByPoolID(ctx context.Context, poolID string, limit int) ([]domain.Event, error) {
	if m.ListByPoolIDFn != nil {
		return m.ListByPoolIDFn(ctx, poolID, limit)
	}
	return nil, nil
}

func (m *EventRepo) Delete(ctx context.Context, ids []string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, ids)
	}
	return nil
}

// Oracle is a function-backed compliance oracle. With no function set it
// approves everyone.
type Oracle struct {
	IsCompliantFn func(ctx context.Context, category string, identity common.Address) (bool, error)
}

func (m *Oracle) IsCompliant(ctx context.Context, category string, identity common.Address) (bool, error) {
	if m.IsCompliantFn != nil {
		return m.IsCompliantFn(ctx, category, identity)
	}
	return true, nil
}
