package pool

import (
	"time"

	"github.com/holiman/uint256"
)

const (
	bpsDenominator = 10_000
	monthsPerYear  = 12
	daysPerMonth   = 30

	Day = 24 * time.Hour

	// PaymentInterval approximates a month as 30 days; the early-repayment
	// penalty uses the same approximation for the term length.
	PaymentInterval  = daysPerMonth * Day
	GracePeriod      = 14 * Day
	ActivationWindow = 7 * Day

	ReserveFundBps = 500
	SuccessFeeBps  = 300
)

// Scale is the fixed-point precision of investor shares.
var Scale = uint256.NewInt(1_000_000_000_000_000_000)

// mulDiv returns x*y/d truncated, using a 512-bit intermediate.
func mulDiv(x, y, d *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		// unreachable while construction bounds hold
		panic("pool: fixed-point overflow")
	}
	return z
}

func mulDiv64(x *uint256.Int, y, d uint64) *uint256.Int {
	return mulDiv(x, uint256.NewInt(y), uint256.NewInt(d))
}

func bps(x *uint256.Int, rate uint64) *uint256.Int {
	return mulDiv64(x, rate, bpsDenominator)
}

// TotalDebt is principal plus simple interest over the whole term.
func TotalDebt(t Terms) *uint256.Int {
	interest := mulDiv64(t.AmountNeeded, t.BorrowerRateBps*t.TermMonths, bpsDenominator*monthsPerYear)
	return interest.Add(interest, t.AmountNeeded)
}

// NextPaymentAmount is the flat monthly installment. Truncation leaves up to
// TermMonths-1 units of dust unpaid after the last installment.
func NextPaymentAmount(t Terms) *uint256.Int {
	d := TotalDebt(t)
	return d.Div(d, uint256.NewInt(t.TermMonths))
}

// OutstandingPrincipal is the debt not yet amortised by paymentsMade
// installments, or zero once totalRepaid covers the whole debt.
func OutstandingPrincipal(t Terms, paymentsMade uint64, totalRepaid *uint256.Int) *uint256.Int {
	d := TotalDebt(t)
	if !totalRepaid.Lt(d) {
		return new(uint256.Int)
	}
	if paymentsMade >= t.TermMonths {
		return new(uint256.Int)
	}
	amortised := mulDiv64(d, paymentsMade, t.TermMonths)
	return d.Sub(d, amortised)
}

// DefaultPenalty charges twice the borrower rate on the principal over the
// months remaining after paymentsMade.
func DefaultPenalty(t Terms, paymentsMade uint64) *uint256.Int {
	if paymentsMade >= t.TermMonths {
		return new(uint256.Int)
	}
	remaining := t.TermMonths - paymentsMade
	return mulDiv64(t.AmountNeeded, 2*t.BorrowerRateBps*remaining, bpsDenominator*monthsPerYear)
}

// LoanEnd is the start time plus the term in 30-day months.
func LoanEnd(start time.Time, termMonths uint64) time.Time {
	return start.Add(time.Duration(termMonths) * PaymentInterval)
}

// EarlyRepaymentPenalty decays linearly with the whole days left until the
// loan end: outstanding * (investorRate/2) * remainingDays / (termDays * 10000).
// It is zero at or after the loan end.
func EarlyRepaymentPenalty(outstanding *uint256.Int, investorRateBps, termMonths uint64, start, now time.Time) *uint256.Int {
	end := LoanEnd(start, termMonths)
	if !now.Before(end) {
		return new(uint256.Int)
	}
	totalDays := termMonths * daysPerMonth
	remainingDays := uint64(end.Sub(now) / Day)
	if remainingDays > totalDays {
		remainingDays = totalDays
	}
	return mulDiv64(outstanding, (investorRateBps/2)*remainingDays, totalDays*bpsDenominator)
}
