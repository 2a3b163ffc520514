package pool

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Asset is the fungible token the pool is funded in. A false result or an
// error means the movement did not happen.
type Asset interface {
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
	// Transfer moves amount from the caller (the pool custody address) to to.
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) (bool, error)
	// TransferFrom moves amount from from to to using spender's allowance.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) (bool, error)
}

// ComplianceOracle answers whether identity passed KYC for category.
type ComplianceOracle interface {
	IsCompliant(ctx context.Context, category string, identity common.Address) (bool, error)
}

// AssetRegistry resolves a pool's funding-asset handle to its token.
type AssetRegistry interface {
	Asset(handle common.Address) (Asset, error)
}
