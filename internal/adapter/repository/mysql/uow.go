package mysql

import (
	"context"

	"lending-pool/internal/domain/pool"
	"lending-pool/internal/domain/uow"

	"gorm.io/gorm"
)

type GormUoW struct{ db *gorm.DB }

func NewGormUoW(db *gorm.DB) *GormUoW { return &GormUoW{db: db} }

func repos(tx *gorm.DB) uow.Repos {
	return uow.Repos{
		Pools:  &PoolRepository{db: tx},
		Events: &EventRepository{db: tx},
	}
}

func (u *GormUoW) WithinTx(ctx context.Context, fn func(r uow.Repos) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(repos(tx))
	})
}

func (u *GormUoW) WithinPoolTx(ctx context.Context, poolID string, fn func(r uow.Repos, p *pool.Pool) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := repos(tx)
		// lock the pool row up-front to prevent races
		p, err := r.Pools.GetByPoolIDForUpdate(ctx, poolID)
		if err != nil {
			return err
		}
		return fn(r, p)
	})
}
