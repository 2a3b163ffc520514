package assetmock

import (
	"context"
	"errors"
	"sync"

	domain "lending-pool/internal/domain/pool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	_ domain.Asset         = (*Token)(nil)
	_ domain.AssetRegistry = (*Registry)(nil)
)

var ErrUnknownAsset = errors.New("assetmock: unknown asset")

// Token is an in-memory fungible token.
type Token struct {
	mu    sync.Mutex
	bal   map[common.Address]*uint256.Int
	allow map[[2]common.Address]*uint256.Int

	// RefuseTo makes transfers to these recipients report false.
	RefuseTo map[common.Address]bool
	// Err, when set, is returned by every transfer.
	Err error
	// OnTransfer runs before each transfer with the token unlocked, so it
	// can call back into the pool service.
	OnTransfer func(ctx context.Context, from, to common.Address, amount *uint256.Int)

	Transfers []Movement
}

type Movement struct {
	From, To common.Address
	Amount   *uint256.Int
}

func NewToken() *Token {
	return &Token{
		bal:      map[common.Address]*uint256.Int{},
		allow:    map[[2]common.Address]*uint256.Int{},
		RefuseTo: map[common.Address]bool{},
	}
}

func (t *Token) Mint(to common.Address, amount uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balance(to).Add(t.balance(to), uint256.NewInt(amount))
}

func (t *Token) Approve(owner, spender common.Address, amount uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allow[[2]common.Address{owner, spender}] = uint256.NewInt(amount)
}

// Balance is BalanceOf without the context, as a uint64.
func (t *Token) Balance(owner common.Address) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance(owner).Uint64()
}

func (t *Token) balance(owner common.Address) *uint256.Int {
	b, ok := t.bal[owner]
	if !ok {
		b = new(uint256.Int)
		t.bal[owner] = b
	}
	return b
}

func (t *Token) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance(owner).Clone(), nil
}

func (t *Token) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.allow[[2]common.Address{owner, spender}]; ok {
		return a.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (t *Token) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) (bool, error) {
	if t.OnTransfer != nil {
		t.OnTransfer(ctx, from, to, amount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *Token) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) (bool, error) {
	if t.OnTransfer != nil {
		t.OnTransfer(ctx, from, to, amount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := [2]common.Address{from, spender}
	a, ok := t.allow[key]
	if !ok || a.Lt(amount) {
		return false, t.Err
	}
	moved, err := t.move(from, to, amount)
	if moved {
		a.Sub(a, amount)
	}
	return moved, err
}

func (t *Token) move(from, to common.Address, amount *uint256.Int) (bool, error) {
	if t.Err != nil {
		return false, t.Err
	}
	if t.RefuseTo[to] {
		return false, nil
	}
	if t.balance(from).Lt(amount) {
		return false, nil
	}
	t.balance(from).Sub(t.balance(from), amount)
	t.balance(to).Add(t.balance(to), amount)
	t.Transfers = append(t.Transfers, Movement{From: from, To: to, Amount: amount.Clone()})
	return true, nil
}

// Registry resolves handles to tokens registered on it.
type Registry struct{ Tokens map[common.Address]*Token }

func NewRegistry() *Registry { return &Registry{Tokens: map[common.Address]*Token{}} }

// Add registers a fresh token under handle and returns it.
func (r *Registry) Add(handle common.Address) *Token {
	t := NewToken()
	r.Tokens[handle] = t
	return t
}

func (r *Registry) Asset(handle common.Address) (domain.Asset, error) {
	t, ok := r.Tokens[handle]
	if !ok {
		return nil, ErrUnknownAsset
	}
	return t, nil
}
