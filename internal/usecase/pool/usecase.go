package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	domain "lending-pool/internal/domain/pool"
	"lending-pool/internal/domain/uow"
	"lending-pool/internal/infrastructure/metrics"
	"lending-pool/pkg/id"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Transfer legs that are not part of an activation.
const (
	LegFunding    = "funding"
	LegRepayment  = "repayment"
	LegEarlyRepay = "early_repayment"
	LegClaim      = "claim"
	LegRefund     = "refund"
)

type Deps struct {
	Pools   domain.Repository
	Events  domain.EventRepository
	UoW     uow.UnitOfWork
	Assets  domain.AssetRegistry
	Oracle  domain.ComplianceOracle
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Usecase struct {
	pools   domain.Repository
	events  domain.EventRepository
	uow     uow.UnitOfWork
	assets  domain.AssetRegistry
	oracle  domain.ComplianceOracle
	metrics *metrics.Metrics
	log     *slog.Logger

	// busy is held for the whole of a mutating operation: the commit, the
	// transfers and any restore. A call that arrives while it is set fails.
	busy atomic.Bool
}

func NewUsecase(d Deps) *Usecase {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Usecase{
		pools:   d.Pools,
		events:  d.Events,
		uow:     d.UoW,
		assets:  d.Assets,
		oracle:  d.Oracle,
		metrics: d.Metrics,
		log:     log,
	}
}

func (u *Usecase) enter() (func(), error) {
	if !u.busy.CompareAndSwap(false, true) {
		return nil, domain.ErrReentrant
	}
	return func() { u.busy.Store(false) }, nil
}

// movement is one planned transfer of the funding asset. A pull moves
// amount from party into the custody against the allowance party granted
// the pool; otherwise amount leaves the custody for party.
type movement struct {
	leg    string
	pull   bool
	party  common.Address
	amount *uint256.Int
}

func payout(leg string, to common.Address, amount *uint256.Int) movement {
	return movement{leg: leg, party: to, amount: amount}
}

func collect(leg string, from common.Address, amount *uint256.Int) movement {
	return movement{leg: leg, pull: true, party: from, amount: amount}
}

// opFunc applies the accounting of one operation to p and returns the
// movements that settle it. It must not touch the asset itself.
type opFunc func(ctx context.Context, p *domain.Pool) ([]movement, error)

// mutate loads and locks the pool, applies the due transitions and runs op.
// The aggregate and its events are committed before any movement is sent.
// A failed movement restores the pool as it was loaded and removes the
// events in a second transaction; movements sent before it are not
// reversed and the error wraps ErrPartialDisbursement.
func (u *Usecase) mutate(ctx context.Context, name, poolID string, now time.Time, op opFunc) (*domain.Pool, error) {
	release, err := u.enter()
	if err != nil {
		u.metrics.ObserveOp(name, err)
		return nil, err
	}
	defer release()

	out, err := u.run(ctx, poolID, now, op)
	u.metrics.ObserveOp(name, err)
	if err != nil {
		u.log.Warn("pool operation failed", "op", name, "pool_id", poolID, "error", err)
		return nil, err
	}
	return out, nil
}

func (u *Usecase) run(ctx context.Context, poolID string, now time.Time, op opFunc) (*domain.Pool, error) {
	var (
		before, after *domain.Pool
		asset         domain.Asset
		plan          []movement
		events        []domain.Event
	)
	err := u.uow.WithinPoolTx(ctx, poolID, func(r uow.Repos, p *domain.Pool) error {
		before = p.Clone()
		p.Advance(now)
		a, err := u.assets.Asset(p.Roles.FundingAsset)
		if err != nil {
			return fmt.Errorf("resolve funding asset: %w", err)
		}
		if plan, err = op(ctx, p); err != nil {
			return err
		}
		events = p.DrainEvents()
		for i := range events {
			events[i].ID = id.NewID32()
		}
		if err := r.Pools.Save(ctx, p); err != nil {
			return err
		}
		if err := r.Events.Append(ctx, events); err != nil {
			return err
		}
		asset, after = a, p
		return nil
	})
	if err != nil {
		return nil, err
	}

	sent, err := u.send(ctx, asset, after, plan)
	if err != nil {
		rerr := u.restore(context.WithoutCancel(ctx), before, events)
		u.metrics.ObserveRestore(rerr)
		if rerr != nil {
			u.log.Error("pool restore failed, stored ledger is ahead of the asset",
				"pool_id", poolID, "cause", err, "error", rerr)
			err = errors.Join(err, fmt.Errorf("restore pool: %w", rerr))
		}
		if sent > 0 {
			err = fmt.Errorf("%w: %d of %d transfers sent: %w", domain.ErrPartialDisbursement, sent, len(plan), err)
		}
		return nil, err
	}
	u.publish(events)
	return after, nil
}

// restore writes back the pool as it was loaded and removes the events of
// the aborted operation.
func (u *Usecase) restore(ctx context.Context, before *domain.Pool, events []domain.Event) error {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	return u.uow.WithinPoolTx(ctx, before.ID, func(r uow.Repos, _ *domain.Pool) error {
		if err := r.Pools.Save(ctx, before); err != nil {
			return err
		}
		return r.Events.Delete(ctx, ids)
	})
}

func (u *Usecase) publish(events []domain.Event) {
	for _, ev := range events {
		attrs := []any{"kind", ev.Kind, "pool_id", ev.PoolID, "status", ev.Status, "event_id", ev.ID}
		if ev.Account != (common.Address{}) {
			attrs = append(attrs, "account", ev.Account.Hex())
		}
		if ev.Counterparty != (common.Address{}) {
			attrs = append(attrs, "counterparty", ev.Counterparty.Hex())
		}
		if ev.Amount != nil {
			attrs = append(attrs, "amount", ev.Amount.Dec())
		}
		u.log.Info("pool event", attrs...)
		u.metrics.ObserveEvent(string(ev.Kind))
	}
}

// send executes plan in order and stops at the first failure. Zero
// amounts are skipped. It reports how many transfers went through.
func (u *Usecase) send(ctx context.Context, asset domain.Asset, p *domain.Pool, plan []movement) (int, error) {
	sent := 0
	for _, m := range plan {
		if m.amount == nil || m.amount.IsZero() {
			continue
		}
		var (
			ok  bool
			err error
		)
		if m.pull {
			ok, err = asset.TransferFrom(ctx, p.Address, m.party, p.Address, m.amount)
		} else {
			ok, err = asset.Transfer(ctx, p.Address, m.party, m.amount)
		}
		u.metrics.ObserveTransfer(m.leg, ok && err == nil)
		if err != nil {
			return sent, fmt.Errorf("%w: %s: %w", domain.ErrTransferFailed, m.leg, err)
		}
		if !ok {
			return sent, fmt.Errorf("%w: %s", domain.ErrTransferFailed, m.leg)
		}
		sent++
	}
	return sent, nil
}

func result(p *domain.Pool, amount *uint256.Int) *OperationResult {
	res := &OperationResult{PoolID: p.ID, Status: string(p.Status)}
	if amount != nil {
		res.Amount = amount.Dec()
	}
	return res
}

// Deploy creates a new pool in OpenForFunding.
func (u *Usecase) Deploy(ctx context.Context, params domain.Params, now time.Time) (*PoolDTO, error) {
	release, err := u.enter()
	if err != nil {
		u.metrics.ObserveOp("deploy", err)
		return nil, err
	}
	defer release()

	p, err := domain.New(id.NewID32(), params, now)
	if err != nil {
		u.metrics.ObserveOp("deploy", err)
		return nil, err
	}
	if _, err := u.assets.Asset(params.Roles.FundingAsset); err != nil {
		u.metrics.ObserveOp("deploy", err)
		return nil, fmt.Errorf("resolve funding asset: %w", err)
	}
	err = u.uow.WithinTx(ctx, func(r uow.Repos) error {
		return r.Pools.Create(ctx, p)
	})
	u.metrics.ObserveOp("deploy", err)
	if err != nil {
		return nil, err
	}
	u.log.Info("pool deployed",
		"pool_id", p.ID,
		"custody", p.Address.Hex(),
		"borrower", p.Roles.Borrower.Hex(),
		"amount_needed", p.Terms.AmountNeeded.Dec(),
		"term_months", p.Terms.TermMonths,
	)
	return toPoolDTO(p, now), nil
}

// Fund records what the pool still needs of amount and pulls only that
// part from investor, so the excess never leaves the investor.
func (u *Usecase) Fund(ctx context.Context, poolID string, investor common.Address, amount *uint256.Int, now time.Time) (*FundResult, error) {
	res := &FundResult{PoolID: poolID, Investor: investor.Hex()}
	p, err := u.mutate(ctx, "fund", poolID, now, func(ctx context.Context, p *domain.Pool) ([]movement, error) {
		if err := p.ValidateFunding(investor, amount, now); err != nil {
			return nil, err
		}
		if err := u.checkCompliance(ctx, p, investor); err != nil {
			return nil, err
		}
		accepted, excess, err := p.Fund(investor, amount, now)
		if err != nil {
			return nil, err
		}
		res.Accepted = accepted.Dec()
		res.Returned = excess.Dec()
		return []movement{collect(LegFunding, investor, accepted)}, nil
	})
	if err != nil {
		return nil, err
	}
	res.Status = string(p.Status)
	return res, nil
}

func (u *Usecase) checkCompliance(ctx context.Context, p *domain.Pool, investor common.Address) error {
	if !p.Compliance.Required {
		return nil
	}
	if u.oracle == nil {
		return fmt.Errorf("%w: no compliance registry configured", domain.ErrNotCompliant)
	}
	ok, err := u.oracle.IsCompliant(ctx, p.Compliance.Category, investor)
	if err != nil {
		return fmt.Errorf("compliance lookup: %w", err)
	}
	if !ok {
		return domain.ErrNotCompliant
	}
	return nil
}

// Activate starts the loan and sends the fee legs and the borrower's
// remainder. A failed leg aborts the whole operation; legs already sent
// stay with their recipients.
func (u *Usecase) Activate(ctx context.Context, poolID string, caller common.Address, now time.Time) (*OperationResult, error) {
	var disbursed *uint256.Int
	p, err := u.mutate(ctx, "activate", poolID, now, func(_ context.Context, p *domain.Pool) ([]movement, error) {
		legs, err := p.Activate(caller, now)
		if err != nil {
			return nil, err
		}
		plan := make([]movement, 0, len(legs))
		for _, leg := range legs {
			plan = append(plan, payout(leg.Name, leg.To, leg.Amount))
			if leg.Name == domain.LegBorrower {
				disbursed = leg.Amount
			}
		}
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	return result(p, disbursed), nil
}

// Repay collects one installment from the borrower.
func (u *Usecase) Repay(ctx context.Context, poolID string, caller common.Address, now time.Time) (*OperationResult, error) {
	var paid *uint256.Int
	p, err := u.mutate(ctx, "repay", poolID, now, func(_ context.Context, p *domain.Pool) ([]movement, error) {
		amount, err := p.Repay(caller, now)
		if err != nil {
			return nil, err
		}
		paid = amount
		return []movement{collect(LegRepayment, caller, amount)}, nil
	})
	if err != nil {
		return nil, err
	}
	return result(p, paid), nil
}

// EarlyRepay collects the outstanding principal plus the early penalty and
// closes the loan.
func (u *Usecase) EarlyRepay(ctx context.Context, poolID string, caller common.Address, now time.Time) (*OperationResult, error) {
	var paid *uint256.Int
	p, err := u.mutate(ctx, "early_repay", poolID, now, func(_ context.Context, p *domain.Pool) ([]movement, error) {
		amount, err := p.EarlyRepay(caller, now)
		if err != nil {
			return nil, err
		}
		paid = amount
		return []movement{collect(LegEarlyRepay, caller, amount)}, nil
	})
	if err != nil {
		return nil, err
	}
	return result(p, paid), nil
}

// Claim pays investor their share of the repayments not yet withdrawn.
func (u *Usecase) Claim(ctx context.Context, poolID string, investor common.Address, now time.Time) (*OperationResult, error) {
	var owed *uint256.Int
	p, err := u.mutate(ctx, "claim", poolID, now, func(_ context.Context, p *domain.Pool) ([]movement, error) {
		amount, err := p.Claim(investor, now)
		if err != nil {
			return nil, err
		}
		owed = amount
		return []movement{payout(LegClaim, investor, amount)}, nil
	})
	if err != nil {
		return nil, err
	}
	return result(p, owed), nil
}

// Refund returns investor's contribution from a failed pool.
func (u *Usecase) Refund(ctx context.Context, poolID string, investor common.Address, now time.Time) (*OperationResult, error) {
	var refunded *uint256.Int
	p, err := u.mutate(ctx, "refund", poolID, now, func(_ context.Context, p *domain.Pool) ([]movement, error) {
		amount, err := p.Refund(investor, now)
		if err != nil {
			return nil, err
		}
		refunded = amount
		return []movement{payout(LegRefund, investor, amount)}, nil
	})
	if err != nil {
		return nil, err
	}
	return result(p, refunded), nil
}

func (u *Usecase) CloseFundingEarly(ctx context.Context, poolID string, caller common.Address, now time.Time) (*OperationResult, error) {
	p, err := u.mutate(ctx, "close_funding", poolID, now, func(_ context.Context, p *domain.Pool) ([]movement, error) {
		return nil, p.CloseFundingEarly(caller, now)
	})
	if err != nil {
		return nil, err
	}
	return result(p, p.TotalFunded()), nil
}

func (u *Usecase) StopFunding(ctx context.Context, poolID string, caller common.Address, now time.Time) (*OperationResult, error) {
	p, err := u.mutate(ctx, "stop_funding", poolID, now, func(_ context.Context, p *domain.Pool) ([]movement, error) {
		return nil, p.StopFunding(caller, now)
	})
	if err != nil {
		return nil, err
	}
	return result(p, nil), nil
}

func (u *Usecase) ReassignInvestor(ctx context.Context, poolID string, caller, old, next common.Address, now time.Time) (*OperationResult, error) {
	p, err := u.mutate(ctx, "reassign", poolID, now, func(_ context.Context, p *domain.Pool) ([]movement, error) {
		return nil, p.ReassignInvestor(caller, old, next, now)
	})
	if err != nil {
		return nil, err
	}
	return result(p, nil), nil
}

// Sync applies and persists whatever transitions are due at now.
func (u *Usecase) Sync(ctx context.Context, poolID string, now time.Time) (*OperationResult, error) {
	p, err := u.mutate(ctx, "sync", poolID, now, func(context.Context, *domain.Pool) ([]movement, error) {
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return result(p, nil), nil
}

// RejectNative refuses value sent in anything but the funding asset.
func (u *Usecase) RejectNative(poolID string) error {
	u.metrics.ObserveOp("native", domain.ErrNativeValueRejected)
	return fmt.Errorf("%w: pool %s", domain.ErrNativeValueRejected, poolID)
}

// Get returns the stored pool. Time-based transitions are not applied.
func (u *Usecase) Get(ctx context.Context, poolID string, now time.Time) (*PoolDTO, error) {
	p, err := u.pools.GetByPoolID(ctx, poolID)
	if err != nil {
		return nil, err
	}
	return toPoolDTO(p, now), nil
}

func (u *Usecase) Investor(ctx context.Context, poolID string, who common.Address) (*InvestorDTO, error) {
	p, err := u.pools.GetByPoolID(ctx, poolID)
	if err != nil {
		return nil, err
	}
	inv, ok := p.Ledger().Investor(who)
	if !ok {
		return nil, domain.ErrNotAnInvestor
	}
	return toInvestorDTO(p, inv), nil
}

func (u *Usecase) Investors(ctx context.Context, poolID string) ([]InvestorDTO, error) {
	p, err := u.pools.GetByPoolID(ctx, poolID)
	if err != nil {
		return nil, err
	}
	all := p.Ledger().Investors()
	out := make([]InvestorDTO, 0, len(all))
	for _, inv := range all {
		out = append(out, *toInvestorDTO(p, inv))
	}
	return out, nil
}

func (u *Usecase) Events(ctx context.Context, poolID string, limit int) ([]EventDTO, error) {
	if _, err := u.pools.GetByPoolID(ctx, poolID); err != nil {
		return nil, err
	}
	evs, err := u.events.ListByPoolID(ctx, poolID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]EventDTO, 0, len(evs))
	for _, ev := range evs {
		out = append(out, toEventDTO(ev))
	}
	return out, nil
}
