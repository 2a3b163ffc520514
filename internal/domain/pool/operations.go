package pool

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Accounting side of every pool operation. Each method assumes Advance(now)
// already ran, checks caller and status, and mutates the aggregate. It
// returns what has to be moved so the caller can transfer after the ledger
// is settled.

// ValidateFunding checks a contribution without recording it.
func (p *Pool) ValidateFunding(investor common.Address, amount *uint256.Int, now time.Time) error {
	if investor == p.Roles.Borrower {
		return fmt.Errorf("%w: borrower cannot fund own loan", ErrUnauthorized)
	}
	if investor == (common.Address{}) {
		return ErrInvalidAddress
	}
	if amount == nil || amount.IsZero() || !amount.Lt(maxAmount) {
		return ErrInvalidAmount
	}
	if now.After(p.Terms.FundingDeadline) {
		return ErrDeadlinePassed
	}
	if err := p.requireStatus(StatusOpenForFunding); err != nil {
		return err
	}
	if p.RemainingNeed().IsZero() {
		return fmt.Errorf("%w: funding goal already reached", ErrInvalidAmount)
	}
	return nil
}

// Fund records up to the remaining need and reports the accepted part and
// the excess to hand back. Reaching the goal closes funding.
func (p *Pool) Fund(investor common.Address, amount *uint256.Int, now time.Time) (accepted, excess *uint256.Int, err error) {
	if err := p.ValidateFunding(investor, amount, now); err != nil {
		return nil, nil, err
	}
	accepted = amount.Clone()
	excess = new(uint256.Int)
	if need := p.RemainingNeed(); accepted.Gt(need) {
		excess.Sub(accepted, need)
		accepted = need
	}
	if err := p.ledger.RecordContribution(investor, accepted); err != nil {
		return nil, nil, err
	}
	p.emit(EventFundingReceived, now, investor, accepted.Clone())
	if p.RemainingNeed().IsZero() {
		p.markFunded(now)
	}
	return accepted, excess, nil
}

// Leg is one outbound transfer of an activation.
type Leg struct {
	Name   string
	To     common.Address
	Amount *uint256.Int
}

const (
	LegSetupFee    = "setup_fee"
	LegReserveFund = "reserve_fund"
	LegSuccessFee  = "success_fee"
	LegBorrower    = "borrower"
)

// Activate starts the loan and returns the disbursement legs in the order
// they must be sent. Fees are carved out of the pooled total.
func (p *Pool) Activate(caller common.Address, now time.Time) ([]Leg, error) {
	if caller != p.Roles.Borrower {
		return nil, ErrUnauthorized
	}
	if err := p.requireStatus(StatusFunded); err != nil {
		return nil, err
	}
	total := p.ledger.Total()
	reserve := bps(total, ReserveFundBps)
	success := bps(total, SuccessFeeBps)
	carveOut := new(uint256.Int).Add(p.Terms.SetupFee, reserve)
	carveOut.Add(carveOut, success)
	if carveOut.Gt(total) {
		return nil, fmt.Errorf("%w: fees exceed funded total %s", ErrInvalidAmount, total.Dec())
	}
	remainder := new(uint256.Int).Sub(total, carveOut)

	p.Status = StatusActive
	p.StartedAt = now.UTC()
	p.PaymentsMade = 0
	p.emit(EventLoanActivated, now, p.Roles.Borrower, remainder.Clone())

	return []Leg{
		{Name: LegSetupFee, To: p.Roles.ProtocolWallet, Amount: p.Terms.SetupFee.Clone()},
		{Name: LegReserveFund, To: p.Roles.ReserveFund, Amount: reserve},
		{Name: LegSuccessFee, To: p.Roles.ProtocolWallet, Amount: success},
		{Name: LegBorrower, To: p.Roles.Borrower, Amount: remainder},
	}, nil
}

// Repay books one installment and returns the amount to pull from the
// borrower. A PreDefault loan returns to Active; the last installment
// closes the loan.
func (p *Pool) Repay(caller common.Address, now time.Time) (*uint256.Int, error) {
	if caller != p.Roles.Borrower {
		return nil, ErrUnauthorized
	}
	if !p.Status.Repaying() {
		return nil, ErrInvalidStatus
	}
	amount := p.NextPaymentAmount()
	p.TotalRepaid.Add(p.TotalRepaid, amount)
	p.PaymentsMade++
	p.Status = StatusActive
	p.emit(EventRepaymentMade, now, caller, amount.Clone())
	if p.PaymentsMade >= p.Terms.TermMonths {
		p.close(now)
	}
	return amount, nil
}

// EarlyRepay settles the outstanding principal plus the early-repayment
// penalty in one go and closes the loan.
func (p *Pool) EarlyRepay(caller common.Address, now time.Time) (*uint256.Int, error) {
	if caller != p.Roles.Borrower {
		return nil, ErrUnauthorized
	}
	if !p.Status.Repaying() {
		return nil, ErrInvalidStatus
	}
	amount := p.OutstandingPrincipal()
	amount.Add(amount, p.EarlyRepaymentPenalty(now))
	p.TotalRepaid.Add(p.TotalRepaid, amount)
	p.PaymentsMade = p.Terms.TermMonths
	p.emit(EventEarlyRepaymentMade, now, caller, amount.Clone())
	p.close(now)
	return amount, nil
}

func (p *Pool) close(now time.Time) {
	p.Status = StatusClosed
	p.emit(EventLoanClosed, now, p.Roles.Borrower, p.TotalRepaid.Clone())
}

// Claim withdraws everything currently owed to investor.
func (p *Pool) Claim(investor common.Address, now time.Time) (*uint256.Int, error) {
	if err := p.requireStatus(StatusActive, StatusClosed); err != nil {
		return nil, err
	}
	if !p.ledger.IsInvestor(investor) {
		return nil, ErrNotAnInvestor
	}
	owed := p.ledger.Owed(investor, p.TotalRepaid)
	if err := p.ledger.Withdraw(investor, owed, p.TotalRepaid); err != nil {
		return nil, err
	}
	p.emit(EventFundsClaimed, now, investor, owed.Clone())
	return owed, nil
}

// Refund marks investor refunded and returns the full contribution.
func (p *Pool) Refund(investor common.Address, now time.Time) (*uint256.Int, error) {
	if err := p.requireStatus(StatusFundingFailed); err != nil {
		return nil, err
	}
	inv, ok := p.ledger.Investor(investor)
	if !ok {
		return nil, ErrNotAnInvestor
	}
	if err := p.ledger.MarkRefunded(investor); err != nil {
		return nil, err
	}
	p.emit(EventFundsRefunded, now, investor, inv.AmountFunded.Clone())
	return inv.AmountFunded, nil
}

// CloseFundingEarly moves an open pool to Funded whatever was raised.
func (p *Pool) CloseFundingEarly(caller common.Address, now time.Time) error {
	if caller != p.Roles.EscrowAdmin {
		return ErrUnauthorized
	}
	if err := p.requireStatus(StatusOpenForFunding); err != nil {
		return err
	}
	p.markFunded(now)
	return nil
}

func (p *Pool) StopFunding(caller common.Address, now time.Time) error {
	if caller != p.Roles.EscrowAdmin {
		return ErrUnauthorized
	}
	if err := p.requireStatus(StatusOpenForFunding, StatusFunded); err != nil {
		return err
	}
	p.markFundingFailed(now)
	return nil
}

// ReassignInvestor moves a position to a new identity.
func (p *Pool) ReassignInvestor(caller, old, next common.Address, now time.Time) error {
	if caller != p.Roles.EscrowAdmin {
		return ErrUnauthorized
	}
	if err := p.ledger.Reassign(old, next); err != nil {
		return err
	}
	p.events = append(p.events, Event{
		Kind:         EventInvestorChanged,
		PoolID:       p.ID,
		At:           now.UTC(),
		Status:       p.Status,
		Account:      old,
		Counterparty: next,
	})
	return nil
}
