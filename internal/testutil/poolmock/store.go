package poolmock

import (
	"context"
	"sync"

	domain "lending-pool/internal/domain/pool"
)

// Store is an in-memory pool and event store. It hands out clones, so a
// caller sees its own writes only after Save.
type Store struct {
	mu     sync.Mutex
	pools  map[string]*domain.Pool
	events map[string][]domain.Event
}

var (
	_ domain.Repository      = (*Store)(nil)
	_ domain.EventRepository = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{pools: map[string]*domain.Pool{}, events: map[string][]domain.Event{}}
}

func (s *Store) Create(_ context.Context, p *domain.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[p.ID] = p.Clone()
	return nil
}

func (s *Store) GetByPoolID(_ context.Context, poolID string) (*domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[poolID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Store) GetByPoolIDForUpdate(ctx context.Context, poolID string) (*domain.Pool, error) {
	return s.GetByPoolID(ctx, poolID)
}

func (s *Store) Save(_ context.Context, p *domain.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.pools[p.ID] = p.Clone()
	return nil
}

func (s *Store) Append(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		s.events[ev.PoolID] = append(s.events[ev.PoolID], ev)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	for poolID, evs := range s.events {
		kept := evs[:0]
		for _, ev := range evs {
			if !drop[ev.ID] {
				kept = append(kept, ev)
			}
		}
		s.events[poolID] = kept
	}
	return nil
}

func (s *Store) ListByPoolID(_ context.Context, poolID string, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events[poolID]
	if limit > 0 && len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	return append([]domain.Event(nil), evs...), nil
}

// Snapshot returns a clone of the stored pool, or nil.
func (s *Store) Snapshot(poolID string) *domain.Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pools[poolID]; ok {
		return p.Clone()
	}
	return nil
}
