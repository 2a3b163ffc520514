package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	domain "lending-pool/internal/domain/pool"
	"lending-pool/internal/domain/uow"
	"lending-pool/internal/testutil/assetmock"
	"lending-pool/internal/testutil/poolmock"
	"lending-pool/internal/testutil/uowmock"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	uc      *Usecase
	store   *poolmock.Store
	token   *assetmock.Token
	oracle  *poolmock.Oracle
	poolID  string
	custody common.Address
}

func newHarness(t *testing.T, params domain.Params) *harness {
	t.Helper()
	store := poolmock.NewStore()
	reg := assetmock.NewRegistry()
	h := &harness{
		store:  store,
		token:  reg.Add(poolmock.FundingAsset),
		oracle: &poolmock.Oracle{},
	}
	h.uc = NewUsecase(Deps{
		Pools:  store,
		Events: store,
		UoW:    uowmock.NewMemory(store),
		Assets: reg,
		Oracle: h.oracle,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	dto, err := h.uc.Deploy(context.Background(), params, t0)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	h.poolID = dto.PoolID
	h.custody = common.HexToAddress(dto.CustodyAddress)
	return h
}

// fund mints and approves amount for who, then funds the pool with it.
func (h *harness) fund(t *testing.T, who common.Address, amount uint64, now time.Time) *FundResult {
	t.Helper()
	h.token.Mint(who, amount)
	h.token.Approve(who, h.custody, amount)
	res, err := h.uc.Fund(context.Background(), h.poolID, who, uint256.NewInt(amount), now)
	if err != nil {
		t.Fatalf("Fund(%s, %d): %v", who.Hex(), amount, err)
	}
	return res
}

// active funds the pool 600/400 and activates it one day after t0.
func (h *harness) active(t *testing.T) time.Time {
	t.Helper()
	h.fund(t, poolmock.InvestorA, 600, t0)
	h.fund(t, poolmock.InvestorB, 400, t0)
	start := t0.Add(domain.Day)
	if _, err := h.uc.Activate(context.Background(), h.poolID, poolmock.Borrower, start); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return start
}

func (h *harness) stored() *domain.Pool { return h.store.Snapshot(h.poolID) }

func TestDeploy_RejectsInvalidParams(t *testing.T) {
	store := poolmock.NewStore()
	uc := NewUsecase(Deps{Pools: store, Events: store, UoW: uowmock.NewMemory(store), Assets: assetmock.NewRegistry()})

	params := poolmock.Params(t0)
	params.Terms.PlatformRateBps = params.Terms.BorrowerRateBps
	if _, err := uc.Deploy(context.Background(), params, t0); !errors.Is(err, domain.ErrInvalidParameters) {
		t.Fatalf("want ErrInvalidParameters, got %v", err)
	}

	// unknown funding asset
	if _, err := uc.Deploy(context.Background(), poolmock.Params(t0), t0); err == nil {
		t.Fatalf("deploy with unregistered asset should fail")
	}
}

func TestFund_CapsAtGoalAndPullsOnlyAccepted(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))

	first := h.fund(t, poolmock.InvestorA, 600, t0)
	if first.Accepted != "600" || first.Returned != "0" || first.Status != string(domain.StatusOpenForFunding) {
		t.Fatalf("first = %+v", first)
	}
	second := h.fund(t, poolmock.InvestorB, 500, t0.Add(time.Hour))
	if second.Accepted != "400" || second.Returned != "100" {
		t.Fatalf("second = %+v", second)
	}
	if second.Status != string(domain.StatusFunded) {
		t.Fatalf("status = %s, want funded", second.Status)
	}
	if got := h.token.Balance(poolmock.InvestorB); got != 100 {
		t.Fatalf("investor B balance = %d, want 100", got)
	}
	// only the accepted part is pulled
	last := h.token.Transfers[len(h.token.Transfers)-1]
	if len(h.token.Transfers) != 2 || last.From != poolmock.InvestorB || last.Amount.Uint64() != 400 {
		t.Fatalf("transfers = %+v", h.token.Transfers)
	}
	if got := h.token.Balance(h.custody); got != 1000 {
		t.Fatalf("custody balance = %d, want 1000", got)
	}
	if got := h.stored().TotalFunded().Uint64(); got != 1000 {
		t.Fatalf("total funded = %d, want 1000", got)
	}
}

func TestFund_Errors(t *testing.T) {
	cases := []struct {
		name   string
		who    common.Address
		amount uint64
		at     time.Time
		want   error
	}{
		{"borrower", poolmock.Borrower, 10, t0, domain.ErrUnauthorized},
		{"zero amount", poolmock.InvestorA, 0, t0, domain.ErrInvalidAmount},
		{"after deadline", poolmock.InvestorA, 10, t0.Add(11 * domain.Day), domain.ErrDeadlinePassed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := newHarness(t, poolmock.Params(t0))
			h.token.Mint(c.who, 100)
			h.token.Approve(c.who, h.custody, 100)
			_, err := h.uc.Fund(context.Background(), h.poolID, c.who, uint256.NewInt(c.amount), c.at)
			if !errors.Is(err, c.want) {
				t.Fatalf("want %v, got %v", c.want, err)
			}
			if len(h.token.Transfers) != 0 {
				t.Fatalf("unexpected transfers: %+v", h.token.Transfers)
			}
		})
	}
}

func TestFund_TransferFailureLeavesPoolUntouched(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	h.token.Mint(poolmock.InvestorA, 500)
	h.token.Approve(poolmock.InvestorA, h.custody, 100) // too small

	_, err := h.uc.Fund(context.Background(), h.poolID, poolmock.InvestorA, uint256.NewInt(500), t0)
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("want ErrTransferFailed, got %v", err)
	}
	p := h.stored()
	if !p.TotalFunded().IsZero() || p.Ledger().Len() != 0 {
		t.Fatalf("ledger changed after failed pull: total=%s investors=%d", p.TotalFunded().Dec(), p.Ledger().Len())
	}
	if evs, _ := h.store.ListByPoolID(context.Background(), h.poolID, 0); len(evs) != 0 {
		t.Fatalf("events persisted: %+v", evs)
	}
}

func TestFund_Compliance(t *testing.T) {
	params := poolmock.Params(t0)
	params.Compliance = domain.Compliance{Required: true, Registry: poolmock.Registry, Category: "retail"}
	h := newHarness(t, params)

	var asked string
	h.oracle.IsCompliantFn = func(_ context.Context, category string, who common.Address) (bool, error) {
		asked = category
		return who == poolmock.InvestorA, nil
	}

	h.fund(t, poolmock.InvestorA, 100, t0)
	if asked != "retail" {
		t.Fatalf("oracle asked category %q", asked)
	}

	h.token.Mint(poolmock.InvestorB, 100)
	h.token.Approve(poolmock.InvestorB, h.custody, 100)
	_, err := h.uc.Fund(context.Background(), h.poolID, poolmock.InvestorB, uint256.NewInt(100), t0)
	if !errors.Is(err, domain.ErrNotCompliant) {
		t.Fatalf("want ErrNotCompliant, got %v", err)
	}
	if h.token.Balance(poolmock.InvestorB) != 100 {
		t.Fatalf("non-compliant investor was charged")
	}
}

func TestActivate_DisbursesLegs(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	h.fund(t, poolmock.InvestorA, 600, t0)
	h.fund(t, poolmock.InvestorB, 400, t0)

	res, err := h.uc.Activate(context.Background(), h.poolID, poolmock.Borrower, t0.Add(domain.Day))
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if res.Status != string(domain.StatusActive) || res.Amount != "900" {
		t.Fatalf("result = %+v", res)
	}
	want := map[common.Address]uint64{
		poolmock.ProtocolWallet: 50, // setup fee 20 + success fee 30
		poolmock.ReserveFund:    50,
		poolmock.Borrower:       900,
		h.custody:               0,
	}
	for who, bal := range want {
		if got := h.token.Balance(who); got != bal {
			t.Errorf("balance of %s = %d, want %d", who.Hex(), got, bal)
		}
	}
	var legs []string
	for _, m := range h.token.Transfers[2:] {
		legs = append(legs, m.To.Hex()+"="+m.Amount.Dec())
	}
	if len(legs) != 4 {
		t.Fatalf("activation legs = %v", legs)
	}
}

func TestActivate_OnlyBorrower(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	h.fund(t, poolmock.InvestorA, 1000, t0)
	_, err := h.uc.Activate(context.Background(), h.poolID, poolmock.EscrowAdmin, t0)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestActivate_FailedLegAbortsWithoutClawback(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	h.fund(t, poolmock.InvestorA, 1000, t0)
	h.token.RefuseTo[poolmock.ReserveFund] = true

	_, err := h.uc.Activate(context.Background(), h.poolID, poolmock.Borrower, t0.Add(domain.Day))
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("want ErrTransferFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), domain.LegReserveFund) {
		t.Fatalf("error does not name the failed leg: %v", err)
	}
	if !errors.Is(err, domain.ErrPartialDisbursement) {
		t.Fatalf("want ErrPartialDisbursement once a leg went out, got %v", err)
	}
	evs, _ := h.store.ListByPoolID(context.Background(), h.poolID, 0)
	if last := evs[len(evs)-1]; last.Kind == domain.EventLoanActivated {
		t.Fatalf("activation event survived the abort: %+v", evs)
	}
	if got := h.stored().Status; got != domain.StatusFunded {
		t.Fatalf("status = %s, want funded", got)
	}
	// the setup fee leg went out before the failure and stays out
	if got := h.token.Balance(poolmock.ProtocolWallet); got != 20 {
		t.Fatalf("protocol wallet = %d, want 20", got)
	}
	if got := h.token.Balance(h.custody); got != 980 {
		t.Fatalf("custody = %d, want 980", got)
	}
}

func TestActivate_FirstLegFailureIsNotPartial(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	h.fund(t, poolmock.InvestorA, 1000, t0)
	h.token.RefuseTo[poolmock.ProtocolWallet] = true

	_, err := h.uc.Activate(context.Background(), h.poolID, poolmock.Borrower, t0.Add(domain.Day))
	if !errors.Is(err, domain.ErrTransferFailed) || errors.Is(err, domain.ErrPartialDisbursement) {
		t.Fatalf("want a plain ErrTransferFailed, got %v", err)
	}
	if got := h.token.Balance(h.custody); got != 1000 {
		t.Fatalf("custody = %d, want 1000", got)
	}
}

func TestRepayAndClaim(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	start := h.active(t)
	ctx := context.Background()

	h.token.Mint(poolmock.Borrower, 1000)
	h.token.Approve(poolmock.Borrower, h.custody, 1000)
	res, err := h.uc.Repay(ctx, h.poolID, poolmock.Borrower, start.Add(10*domain.Day))
	if err != nil {
		t.Fatalf("Repay: %v", err)
	}
	if res.Amount != "93" {
		t.Fatalf("installment = %s, want 93", res.Amount)
	}

	// 60% of 93 truncates to 55
	claim, err := h.uc.Claim(ctx, h.poolID, poolmock.InvestorA, start.Add(11*domain.Day))
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claim.Amount != "55" || h.token.Balance(poolmock.InvestorA) != 55 {
		t.Fatalf("claim = %+v, balance %d", claim, h.token.Balance(poolmock.InvestorA))
	}
	_, err = h.uc.Claim(ctx, h.poolID, poolmock.InvestorA, start.Add(11*domain.Day))
	if !errors.Is(err, domain.ErrNothingToClaim) {
		t.Fatalf("second claim: want ErrNothingToClaim, got %v", err)
	}
	if _, err := h.uc.Claim(ctx, h.poolID, poolmock.InvestorC, start.Add(11*domain.Day)); !errors.Is(err, domain.ErrNotAnInvestor) {
		t.Fatalf("stranger claim: want ErrNotAnInvestor, got %v", err)
	}

	inv, err := h.uc.Investor(ctx, h.poolID, poolmock.InvestorA)
	if err != nil {
		t.Fatalf("Investor: %v", err)
	}
	if inv.Share != "0.6" || inv.AmountWithdrawn != "55" || inv.Owed != "0" {
		t.Fatalf("investor = %+v", inv)
	}
}

func TestEarlyRepay_ClosesLoan(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	start := h.active(t)
	ctx := context.Background()

	h.token.Mint(poolmock.Borrower, 2000)
	h.token.Approve(poolmock.Borrower, h.custody, 2000)

	// outstanding 1120, penalty 1120 * 500 * 330 / (360 * 10000) = 51
	res, err := h.uc.EarlyRepay(ctx, h.poolID, poolmock.Borrower, start.Add(30*domain.Day))
	if err != nil {
		t.Fatalf("EarlyRepay: %v", err)
	}
	if res.Amount != "1171" || res.Status != string(domain.StatusClosed) {
		t.Fatalf("result = %+v", res)
	}
	if _, err := h.uc.Repay(ctx, h.poolID, poolmock.Borrower, start.Add(31*domain.Day)); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("repay after close: want ErrInvalidStatus, got %v", err)
	}
	claim, err := h.uc.Claim(ctx, h.poolID, poolmock.InvestorB, start.Add(31*domain.Day))
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claim.Amount != "468" { // 40% of 1171
		t.Fatalf("claim = %s, want 468", claim.Amount)
	}
}

func TestStopFundingAndRefund(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	ctx := context.Background()
	h.fund(t, poolmock.InvestorA, 600, t0)

	if _, err := h.uc.StopFunding(ctx, h.poolID, poolmock.Borrower, t0); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("borrower stop: want ErrUnauthorized, got %v", err)
	}
	res, err := h.uc.StopFunding(ctx, h.poolID, poolmock.EscrowAdmin, t0)
	if err != nil || res.Status != string(domain.StatusFundingFailed) {
		t.Fatalf("StopFunding: %+v %v", res, err)
	}

	ref, err := h.uc.Refund(ctx, h.poolID, poolmock.InvestorA, t0)
	if err != nil || ref.Amount != "600" {
		t.Fatalf("Refund: %+v %v", ref, err)
	}
	if h.token.Balance(poolmock.InvestorA) != 600 {
		t.Fatalf("refund not paid")
	}
	if _, err := h.uc.Refund(ctx, h.poolID, poolmock.InvestorA, t0); !errors.Is(err, domain.ErrAlreadyRefunded) {
		t.Fatalf("second refund: want ErrAlreadyRefunded, got %v", err)
	}
}

func TestCloseFundingEarly(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	h.fund(t, poolmock.InvestorA, 300, t0)
	res, err := h.uc.CloseFundingEarly(context.Background(), h.poolID, poolmock.EscrowAdmin, t0)
	if err != nil {
		t.Fatalf("CloseFundingEarly: %v", err)
	}
	if res.Status != string(domain.StatusFunded) || res.Amount != "300" {
		t.Fatalf("result = %+v", res)
	}
}

func TestReassignInvestor(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	ctx := context.Background()
	h.fund(t, poolmock.InvestorA, 300, t0)

	if _, err := h.uc.ReassignInvestor(ctx, h.poolID, poolmock.EscrowAdmin, poolmock.InvestorA, poolmock.InvestorC, t0); err != nil {
		t.Fatalf("ReassignInvestor: %v", err)
	}
	if _, err := h.uc.Investor(ctx, h.poolID, poolmock.InvestorA); !errors.Is(err, domain.ErrNotAnInvestor) {
		t.Fatalf("old identity still present: %v", err)
	}
	inv, err := h.uc.Investor(ctx, h.poolID, poolmock.InvestorC)
	if err != nil || inv.AmountFunded != "300" {
		t.Fatalf("new identity: %+v %v", inv, err)
	}
}

func TestSync_PersistsDueTransitions(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	ctx := context.Background()
	h.fund(t, poolmock.InvestorA, 300, t0)
	late := t0.Add(11 * domain.Day)

	// reads never transition
	dto, err := h.uc.Get(ctx, h.poolID, late)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if dto.Status != string(domain.StatusOpenForFunding) {
		t.Fatalf("Get moved status to %s", dto.Status)
	}

	res, err := h.uc.Sync(ctx, h.poolID, late)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Status != string(domain.StatusFundingFailed) {
		t.Fatalf("status = %s, want funding_failed", res.Status)
	}
	evs, err := h.uc.Events(ctx, h.poolID, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if last := evs[len(evs)-1]; last.Kind != string(domain.EventFundingFailed) {
		t.Fatalf("last event = %+v", last)
	}
}

func TestReentrantCallIsRejected(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	h.fund(t, poolmock.InvestorA, 1000, t0)

	var nested error
	h.token.OnTransfer = func(ctx context.Context, _, _ common.Address, _ *uint256.Int) {
		if nested == nil {
			_, nested = h.uc.Claim(ctx, h.poolID, poolmock.InvestorA, t0)
		}
	}
	if _, err := h.uc.Activate(context.Background(), h.poolID, poolmock.Borrower, t0.Add(domain.Day)); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !errors.Is(nested, domain.ErrReentrant) {
		t.Fatalf("nested call: want ErrReentrant, got %v", nested)
	}
	if h.uc.busy.Load() {
		t.Fatalf("guard not released")
	}
}

func TestRejectNative(t *testing.T) {
	uc := NewUsecase(Deps{})
	if err := uc.RejectNative("P"); !errors.Is(err, domain.ErrNativeValueRejected) {
		t.Fatalf("want ErrNativeValueRejected, got %v", err)
	}
}

func TestReads_NotFound(t *testing.T) {
	store := poolmock.NewStore()
	uc := NewUsecase(Deps{Pools: store, Events: store})
	ctx := context.Background()
	if _, err := uc.Get(ctx, "missing", t0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get: %v", err)
	}
	if _, err := uc.Events(ctx, "missing", 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Events: %v", err)
	}
}

func TestShareFraction(t *testing.T) {
	third := new(uint256.Int).Div(domain.Scale, uint256.NewInt(3))
	if got := ShareFraction(third).String(); got != "0.333333333333333333" {
		t.Fatalf("ShareFraction = %s", got)
	}
}

// ---- commit and settlement ordering ----

var errConnReset = errors.New("db: connection reset")

// stagedUoW runs pool transactions on the in-memory store and lets wrap
// replace the repos or fail the nth transaction.
func stagedUoW(store *poolmock.Store, wrap func(n int, r uow.Repos) (uow.Repos, error)) *uowmock.UoW {
	mem := uowmock.NewMemory(store)
	calls := 0
	return uowmock.New().
		WithWithinTx(mem.WithinTx).
		WithWithinPoolTx(func(ctx context.Context, poolID string, fn func(uow.Repos, *domain.Pool) error) error {
			calls++
			n := calls
			return mem.WithinPoolTx(ctx, poolID, func(r uow.Repos, p *domain.Pool) error {
				r, err := wrap(n, r)
				if err != nil {
					return err
				}
				return fn(r, p)
			})
		})
}

// repaid activates the pool and books one installment of 93, leaving
// investor A owed 55.
func (h *harness) repaid(t *testing.T) time.Time {
	t.Helper()
	start := h.active(t)
	h.token.Mint(poolmock.Borrower, 1000)
	h.token.Approve(poolmock.Borrower, h.custody, 1000)
	if _, err := h.uc.Repay(context.Background(), h.poolID, poolmock.Borrower, start.Add(10*domain.Day)); err != nil {
		t.Fatalf("Repay: %v", err)
	}
	return start.Add(11 * domain.Day)
}

func (h *harness) withdrawn(t *testing.T, who common.Address) uint64 {
	t.Helper()
	inv, ok := h.stored().Ledger().Investor(who)
	if !ok {
		t.Fatalf("%s is not an investor", who.Hex())
	}
	return inv.AmountWithdrawn.Uint64()
}

func TestClaim_FailedCommitSendsNothing(t *testing.T) {
	cases := []struct {
		name string
		fail func(r uow.Repos) uow.Repos
	}{
		{"save", func(r uow.Repos) uow.Repos {
			return uow.Repos{Pools: &poolmock.Repo{SaveFn: func(context.Context, *domain.Pool) error { return errConnReset }}, Events: r.Events}
		}},
		{"append events", func(r uow.Repos) uow.Repos {
			return uow.Repos{Pools: r.Pools, Events: &poolmock.EventRepo{AppendFn: func(context.Context, []domain.Event) error { return errConnReset }}}
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := newHarness(t, poolmock.Params(t0))
			at := h.repaid(t)
			ctx := context.Background()

			h.uc.uow = stagedUoW(h.store, func(n int, r uow.Repos) (uow.Repos, error) {
				if n == 1 {
					return c.fail(r), nil
				}
				return r, nil
			})
			if _, err := h.uc.Claim(ctx, h.poolID, poolmock.InvestorA, at); !errors.Is(err, errConnReset) {
				t.Fatalf("want %v, got %v", errConnReset, err)
			}
			if got := h.token.Balance(poolmock.InvestorA); got != 0 {
				t.Fatalf("paid %d before the ledger was committed", got)
			}
			if got := h.withdrawn(t, poolmock.InvestorA); got != 0 {
				t.Fatalf("withdrawn = %d after a failed commit", got)
			}

			// the retry pays the entitlement exactly once
			claim, err := h.uc.Claim(ctx, h.poolID, poolmock.InvestorA, at)
			if err != nil {
				t.Fatalf("retry: %v", err)
			}
			if claim.Amount != "55" || h.token.Balance(poolmock.InvestorA) != 55 {
				t.Fatalf("retry = %+v, balance %d", claim, h.token.Balance(poolmock.InvestorA))
			}
			if _, err := h.uc.Claim(ctx, h.poolID, poolmock.InvestorA, at); !errors.Is(err, domain.ErrNothingToClaim) {
				t.Fatalf("third claim: want ErrNothingToClaim, got %v", err)
			}
		})
	}
}

func TestClaim_LedgerCommittedBeforePayout(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	at := h.repaid(t)

	var seen uint64
	h.token.OnTransfer = func(context.Context, common.Address, common.Address, *uint256.Int) {
		seen = h.withdrawn(t, poolmock.InvestorA)
	}
	if _, err := h.uc.Claim(context.Background(), h.poolID, poolmock.InvestorA, at); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if seen != 55 {
		t.Fatalf("stored withdrawal during payout = %d, want 55", seen)
	}
}

func TestClaim_TransferFailureRestoresLedger(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	at := h.repaid(t)
	ctx := context.Background()
	before, _ := h.store.ListByPoolID(ctx, h.poolID, 0)

	h.token.RefuseTo[poolmock.InvestorA] = true
	_, err := h.uc.Claim(ctx, h.poolID, poolmock.InvestorA, at)
	if !errors.Is(err, domain.ErrTransferFailed) || errors.Is(err, domain.ErrPartialDisbursement) {
		t.Fatalf("want a plain ErrTransferFailed, got %v", err)
	}
	if got := h.withdrawn(t, poolmock.InvestorA); got != 0 {
		t.Fatalf("withdrawn = %d after a refused payout", got)
	}
	if after, _ := h.store.ListByPoolID(ctx, h.poolID, 0); len(after) != len(before) {
		t.Fatalf("events = %d, want %d", len(after), len(before))
	}

	delete(h.token.RefuseTo, poolmock.InvestorA)
	if claim, err := h.uc.Claim(ctx, h.poolID, poolmock.InvestorA, at); err != nil || claim.Amount != "55" {
		t.Fatalf("retry = %+v %v", claim, err)
	}
	if got := h.token.Balance(poolmock.InvestorA); got != 55 {
		t.Fatalf("balance = %d, want 55", got)
	}
}

func TestClaim_FailedRestoreNeverPaysTwice(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	at := h.repaid(t)
	ctx := context.Background()

	h.token.RefuseTo[poolmock.InvestorA] = true
	h.uc.uow = stagedUoW(h.store, func(n int, r uow.Repos) (uow.Repos, error) {
		if n == 2 {
			return r, errConnReset
		}
		return r, nil
	})
	_, err := h.uc.Claim(ctx, h.poolID, poolmock.InvestorA, at)
	if !errors.Is(err, domain.ErrTransferFailed) || !errors.Is(err, errConnReset) {
		t.Fatalf("want transfer and restore errors, got %v", err)
	}
	// the committed withdrawal stands, so the entitlement cannot be paid again
	if got := h.withdrawn(t, poolmock.InvestorA); got != 55 {
		t.Fatalf("withdrawn = %d, want 55", got)
	}
	h.uc.uow = uowmock.NewMemory(h.store)
	delete(h.token.RefuseTo, poolmock.InvestorA)
	if _, err := h.uc.Claim(ctx, h.poolID, poolmock.InvestorA, at); !errors.Is(err, domain.ErrNothingToClaim) {
		t.Fatalf("second claim: want ErrNothingToClaim, got %v", err)
	}
	if got := h.token.Balance(poolmock.InvestorA); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
}

func TestMutate_LockFailure(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	h.fund(t, poolmock.InvestorA, 1000, t0)
	moved := len(h.token.Transfers)

	repo := &poolmock.Repo{GetByPoolIDForUpdateFn: func(context.Context, string) (*domain.Pool, error) {
		return nil, errConnReset
	}}
	h.uc.uow = uowmock.New().WithWithinPoolTx(func(ctx context.Context, poolID string, fn func(uow.Repos, *domain.Pool) error) error {
		p, err := repo.GetByPoolIDForUpdate(ctx, poolID)
		if err != nil {
			return err
		}
		return fn(uow.Repos{Pools: repo, Events: &poolmock.EventRepo{}}, p)
	})
	if _, err := h.uc.Activate(context.Background(), h.poolID, poolmock.Borrower, t0.Add(domain.Day)); !errors.Is(err, errConnReset) {
		t.Fatalf("want %v, got %v", errConnReset, err)
	}
	if len(h.token.Transfers) != moved {
		t.Fatalf("transfers sent without a locked pool: %+v", h.token.Transfers[moved:])
	}
	if h.uc.busy.Load() {
		t.Fatalf("guard not released")
	}
}

func TestMutate_UnknownAssetLeavesPoolUntouched(t *testing.T) {
	h := newHarness(t, poolmock.Params(t0))
	h.uc.assets = assetmock.NewRegistry()

	_, err := h.uc.Sync(context.Background(), h.poolID, t0.Add(11*domain.Day))
	if err == nil || !strings.Contains(err.Error(), "resolve funding asset") {
		t.Fatalf("want asset resolution error, got %v", err)
	}
	if got := h.stored().Status; got != domain.StatusOpenForFunding {
		t.Fatalf("status = %s, want open", got)
	}
}
