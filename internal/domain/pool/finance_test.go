package pool

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func TestTotalDebtAndInstallment(t *testing.T) {
	terms := testParams().Terms
	if got := TotalDebt(terms).Uint64(); got != 1350 {
		t.Fatalf("TotalDebt = %d, want 1350", got)
	}
	if got := NextPaymentAmount(terms).Uint64(); got != 112 {
		t.Fatalf("NextPaymentAmount = %d, want 112", got)
	}
}

func TestOutstandingPrincipal(t *testing.T) {
	terms := testParams().Terms
	cases := []struct {
		name     string
		payments uint64
		repaid   uint64
		want     uint64
	}{
		{"nothing paid", 0, 0, 1350},
		{"three installments", 3, 336, 1013}, // 1350 - trunc(1350*3/12)
		{"debt covered", 5, 1350, 0},
		{"all installments", 12, 1344, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := OutstandingPrincipal(terms, c.payments, u(c.repaid)).Uint64(); got != c.want {
				t.Fatalf("got %d, want %d", got, c.want)
			}
		})
	}
}

func TestOutstandingPrincipal_NeverIncreases(t *testing.T) {
	for _, months := range []uint64{1, 7, 12, 36} {
		terms := testParams().Terms
		terms.TermMonths = months
		installment := NextPaymentAmount(terms)

		prev := OutstandingPrincipal(terms, 0, u(0))
		if !prev.Eq(TotalDebt(terms)) {
			t.Fatalf("%d months: outstanding before any payment = %s, want %s", months, prev.Dec(), TotalDebt(terms).Dec())
		}
		repaid := new(uint256.Int)
		for k := uint64(1); k <= months; k++ {
			repaid.Add(repaid, installment)
			got := OutstandingPrincipal(terms, k, repaid)
			if got.Gt(prev) {
				t.Fatalf("%d months: outstanding rose from %s to %s after payment %d", months, prev.Dec(), got.Dec(), k)
			}
			prev = got
		}
		if !prev.IsZero() {
			t.Fatalf("%d months: outstanding after the last payment = %s, want 0", months, prev.Dec())
		}
	}
}

func TestDefaultPenalty(t *testing.T) {
	terms := testParams().Terms
	cases := []struct {
		payments uint64
		want     uint64
	}{
		{0, 700},
		{3, 525},
		{12, 0},
		{13, 0},
	}
	for _, c := range cases {
		if got := DefaultPenalty(terms, c.payments).Uint64(); got != c.want {
			t.Errorf("DefaultPenalty(%d) = %d, want %d", c.payments, got, c.want)
		}
	}
}

func TestEarlyRepaymentPenalty(t *testing.T) {
	start := t0
	cases := []struct {
		name  string
		after time.Duration
		want  uint64
	}{
		{"halfway", 180 * Day, 25},
		{"partial day leaves 179 whole days", 180*Day + 12*time.Hour, 24},
		{"at loan end", 360 * Day, 0},
		{"after loan end", 400 * Day, 0},
		{"before start clamps to full term", -10 * Day, 50},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			now := start.Add(c.after)
			if got := EarlyRepaymentPenalty(u(1000), 1000, 12, start, now).Uint64(); got != c.want {
				t.Fatalf("got %d, want %d", got, c.want)
			}
		})
	}
}

func TestLoanEnd(t *testing.T) {
	if got := LoanEnd(t0, 12); !got.Equal(t0.Add(360 * Day)) {
		t.Fatalf("LoanEnd = %v", got)
	}
}

func TestMulDivAtAmountBound(t *testing.T) {
	x := new(uint256.Int).Sub(maxAmount, u(1))
	if got := mulDiv(x, Scale, x); !got.Eq(Scale) {
		t.Fatalf("mulDiv(x, Scale, x) = %s", got.Dec())
	}
	// largest debt the bounds allow still fits
	terms := Terms{AmountNeeded: x, BorrowerRateBps: MaxBorrowerRateBps, TermMonths: MaxTermMonths}
	want := new(uint256.Int).Mul(x, u(10_001))
	if got := TotalDebt(terms); !got.Eq(want) {
		t.Fatalf("TotalDebt at bounds = %s, want %s", got.Dec(), want.Dec())
	}
}
