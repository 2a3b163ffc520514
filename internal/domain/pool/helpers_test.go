package pool

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	borrower = common.HexToAddress("0xb0")
	admin    = common.HexToAddress("0xad")
	asset    = common.HexToAddress("0xa5")
	protocol = common.HexToAddress("0xf0")
	reserve  = common.HexToAddress("0xf1")
	alice    = common.HexToAddress("0x0a")
	bob      = common.HexToAddress("0x0b")
	carol    = common.HexToAddress("0x0c")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// 1000 at 35% for 12 months, 5% platform cut: debt 1350, installment 112.
func testParams() Params {
	return Params{
		Roles: Roles{
			Borrower:       borrower,
			EscrowAdmin:    admin,
			FundingAsset:   asset,
			ProtocolWallet: protocol,
			ReserveFund:    reserve,
		},
		Terms: Terms{
			AmountNeeded:    u(1000),
			BorrowerRateBps: 3500,
			PlatformRateBps: 500,
			TermMonths:      12,
			FundingDeadline: t0.Add(10 * Day),
			SetupFee:        u(20),
		},
	}
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p, err := New("pool-1", testParams(), t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// activePool is fully funded by alice (600) and bob (400) and activated at
// the returned start time.
func activePool(t *testing.T) (*Pool, time.Time) {
	t.Helper()
	p := newTestPool(t)
	mustFund(t, p, alice, 600, t0)
	mustFund(t, p, bob, 400, t0)
	start := t0.Add(Day)
	if _, err := p.Activate(borrower, start); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	p.DrainEvents()
	return p, start
}

func mustFund(t *testing.T, p *Pool, who common.Address, amount uint64, now time.Time) {
	t.Helper()
	if _, _, err := p.Fund(who, u(amount), now); err != nil {
		t.Fatalf("Fund(%s, %d): %v", who.Hex(), amount, err)
	}
}

func kinds(evs []Event) []EventKind {
	out := make([]EventKind, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Kind)
	}
	return out
}

func equalKinds(got []EventKind, want ...EventKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
