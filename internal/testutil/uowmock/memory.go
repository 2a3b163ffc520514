package uowmock

import (
	"context"

	"lending-pool/internal/domain/pool"
	"lending-pool/internal/domain/uow"
	"lending-pool/internal/testutil/poolmock"
)

var _ uow.UnitOfWork = (*Memory)(nil)

// Memory is a UnitOfWork over a poolmock.Store. Writes made inside fn are
// staged and reach the store only when fn returns nil.
type Memory struct{ Store *poolmock.Store }

func NewMemory(s *poolmock.Store) *Memory { return &Memory{Store: s} }

func (m *Memory) WithinTx(ctx context.Context, fn func(r uow.Repos) error) error {
	tx := &stage{base: m.Store, pools: map[string]*pool.Pool{}}
	if err := fn(uow.Repos{Pools: tx, Events: tx}); err != nil {
		return err
	}
	return tx.commit(ctx)
}

func (m *Memory) WithinPoolTx(ctx context.Context, poolID string, fn func(r uow.Repos, p *pool.Pool) error) error {
	return m.WithinTx(ctx, func(r uow.Repos) error {
		p, err := r.Pools.GetByPoolIDForUpdate(ctx, poolID)
		if err != nil {
			return err
		}
		return fn(r, p)
	})
}

type stage struct {
	base    *poolmock.Store
	created []*pool.Pool
	pools   map[string]*pool.Pool
	events  []pool.Event
	deleted []string
}

func (s *stage) Create(_ context.Context, p *pool.Pool) error {
	s.created = append(s.created, p.Clone())
	return nil
}

func (s *stage) GetByPoolID(ctx context.Context, poolID string) (*pool.Pool, error) {
	if p, ok := s.pools[poolID]; ok {
		return p.Clone(), nil
	}
	return s.base.GetByPoolID(ctx, poolID)
}

func (s *stage) GetByPoolIDForUpdate(ctx context.Context, poolID string) (*pool.Pool, error) {
	return s.GetByPoolID(ctx, poolID)
}

func (s *stage) Save(_ context.Context, p *pool.Pool) error {
	s.pools[p.ID] = p.Clone()
	return nil
}

func (s *stage) Append(_ context.Context, events []pool.Event) error {
	s.events = append(s.events, events...)
	return nil
}

func (s *stage) Delete(_ context.Context, ids []string) error {
	s.deleted = append(s.deleted, ids...)
	return nil
}

func (s *stage) ListByPoolID(ctx context.Context, poolID string, limit int) ([]pool.Event, error) {
	return s.base.ListByPoolID(ctx, poolID, limit)
}

func (s *stage) commit(ctx context.Context) error {
	for _, p := range s.created {
		if err := s.base.Create(ctx, p); err != nil {
			return err
		}
	}
	for _, p := range s.pools {
		if err := s.base.Save(ctx, p); err != nil {
			return err
		}
	}
	if err := s.base.Delete(ctx, s.deleted); err != nil {
		return err
	}
	return s.base.Append(ctx, s.events)
}
