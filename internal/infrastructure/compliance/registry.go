package compliance

import (
	"context"

	"lending-pool/internal/domain/pool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// Registry is an allow-list kept as one Redis set per compliance category.
type Registry struct{ rdb *redis.Client }

var _ pool.ComplianceOracle = (*Registry)(nil)

func NewRegistry(rdb *redis.Client) *Registry { return &Registry{rdb: rdb} }

func key(category string) string { return "kyc:" + category }

func (r *Registry) IsCompliant(ctx context.Context, category string, identity common.Address) (bool, error) {
	return r.rdb.SIsMember(ctx, key(category), identity.Hex()).Result()
}

func (r *Registry) Allow(ctx context.Context, category string, identities ...common.Address) error {
	if len(identities) == 0 {
		return nil
	}
	members := make([]any, 0, len(identities))
	for _, id := range identities {
		members = append(members, id.Hex())
	}
	return r.rdb.SAdd(ctx, key(category), members...).Err()
}

func (r *Registry) Revoke(ctx context.Context, category string, identity common.Address) error {
	return r.rdb.SRem(ctx, key(category), identity.Hex()).Err()
}
