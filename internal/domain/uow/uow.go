package uow

import (
	"context"

	"lending-pool/internal/domain/pool"
)

type Repos struct {
	Pools  pool.Repository
	Events pool.EventRepository
}

type UnitOfWork interface {
	// plain tx
	WithinTx(ctx context.Context, fn func(r Repos) error) error
	// lock the pool row first, then pass the rebuilt aggregate in
	WithinPoolTx(ctx context.Context, poolID string, fn func(r Repos, p *pool.Pool) error) error
}
