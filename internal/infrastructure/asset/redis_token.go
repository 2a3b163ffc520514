package asset

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lending-pool/internal/domain/pool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 8

// Ledger keeps fungible token balances in Redis hashes, one pair of hashes
// per token handle:
//
//	token:<handle>:bal   field <owner>            -> decimal balance
//	token:<handle>:allow field <owner>:<spender>  -> decimal allowance
//
// Amounts are uint256 decimals, so arithmetic happens client side under
// WATCH/MULTI rather than in Lua.
type Ledger struct{ rdb *redis.Client }

func NewLedger(rdb *redis.Client) *Ledger { return &Ledger{rdb: rdb} }

// Asset implements pool.AssetRegistry.
func (l *Ledger) Asset(handle common.Address) (pool.Asset, error) {
	return l.Token(handle), nil
}

func (l *Ledger) Token(handle common.Address) *Token {
	prefix := "token:" + strings.ToLower(handle.Hex())
	return &Token{rdb: l.rdb, balKey: prefix + ":bal", allowKey: prefix + ":allow"}
}

// Token is a single fungible asset. It satisfies pool.Asset.
type Token struct {
	rdb      *redis.Client
	balKey   string
	allowKey string
}

var _ pool.Asset = (*Token)(nil)

func allowField(owner, spender common.Address) string {
	return owner.Hex() + ":" + spender.Hex()
}

func parse(v any) (*uint256.Int, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}

type hgetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func (t *Token) read(ctx context.Context, c hgetter, key, field string) (*uint256.Int, error) {
	s, err := c.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return uint256.FromDecimal(s)
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return t.read(ctx, t.rdb, t.balKey, owner.Hex())
}

func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return t.read(ctx, t.rdb, t.allowKey, allowField(owner, spender))
}

// Mint credits to out of thin air. Used for seeding balances.
func (t *Token) Mint(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return t.watch(ctx, func(tx *redis.Tx) error {
		bal, err := t.read(ctx, tx, t.balKey, to.Hex())
		if err != nil {
			return err
		}
		next, overflow := new(uint256.Int).AddOverflow(bal, amount)
		if overflow {
			return fmt.Errorf("mint overflows balance of %s", to.Hex())
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, t.balKey, to.Hex(), next.Dec())
			return nil
		})
		return err
	}, t.balKey)
}

// Approve sets spender's allowance over owner's balance.
func (t *Token) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	return t.rdb.HSet(ctx, t.allowKey, allowField(owner, spender), amount.Dec()).Err()
}

func (t *Token) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) (bool, error) {
	var ok bool
	err := t.watch(ctx, func(tx *redis.Tx) error {
		var err error
		ok, err = t.move(ctx, tx, from, to, amount, nil)
		return err
	}, t.balKey)
	return ok, err
}

func (t *Token) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) (bool, error) {
	var ok bool
	err := t.watch(ctx, func(tx *redis.Tx) error {
		allowance, err := t.read(ctx, tx, t.allowKey, allowField(from, spender))
		if err != nil {
			return err
		}
		if allowance.Lt(amount) {
			ok = false
			return nil
		}
		rest := new(uint256.Int).Sub(allowance, amount)
		ok, err = t.move(ctx, tx, from, to, amount, func(p redis.Pipeliner) {
			p.HSet(ctx, t.allowKey, allowField(from, spender), rest.Dec())
		})
		return err
	}, t.balKey, t.allowKey)
	return ok, err
}

// move debits from and credits to inside one MULTI. extra adds more writes
// to the same MULTI.
func (t *Token) move(ctx context.Context, tx *redis.Tx, from, to common.Address, amount *uint256.Int, extra func(redis.Pipeliner)) (bool, error) {
	vals, err := tx.HMGet(ctx, t.balKey, from.Hex(), to.Hex()).Result()
	if err != nil {
		return false, err
	}
	fromBal, err := parse(vals[0])
	if err != nil {
		return false, err
	}
	toBal, err := parse(vals[1])
	if err != nil {
		return false, err
	}
	if fromBal.Lt(amount) {
		return false, nil
	}
	if from == to {
		return true, nil
	}
	fromBal.Sub(fromBal, amount)
	if _, overflow := toBal.AddOverflow(toBal, amount); overflow {
		return false, nil
	}
	_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, t.balKey, from.Hex(), fromBal.Dec(), to.Hex(), toBal.Dec())
		if extra != nil {
			extra(p)
		}
		return nil
	})
	return err == nil, err
}

// watch retries fn while a watched key changes underneath it.
func (t *Token) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := t.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("token ledger: too much contention on %v", keys)
}
