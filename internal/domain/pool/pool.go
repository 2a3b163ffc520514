package pool

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Pool is the loan aggregate: terms, lifecycle status and the investor
// ledger. It performs no I/O; asset movement is the caller's job and must
// happen after the accounting method it follows has returned.
type Pool struct {
	ID         string
	Address    common.Address
	Roles      Roles
	Terms      Terms
	Compliance Compliance
	Metadata   Metadata

	Status          Status
	TotalRepaid     *uint256.Int
	PaymentsMade    uint64
	InvestorRateBps uint64
	FundedAt        time.Time
	StartedAt       time.Time
	CreatedAt       time.Time

	ledger *Ledger
	events []Event
}

// CustodyAddress derives the address that holds a pool's funds.
func CustodyAddress(poolID string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("lending-pool:" + poolID))[12:])
}

// New validates params and creates a pool open for funding.
func New(id string, params Params, now time.Time) (*Pool, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty pool id", ErrInvalidParameters)
	}
	if err := params.Validate(now); err != nil {
		return nil, err
	}
	terms := params.Terms
	terms.AmountNeeded = terms.AmountNeeded.Clone()
	if terms.SetupFee == nil {
		terms.SetupFee = new(uint256.Int)
	} else {
		terms.SetupFee = terms.SetupFee.Clone()
	}
	return &Pool{
		ID:              id,
		Address:         CustodyAddress(id),
		Roles:           params.Roles,
		Terms:           terms,
		Compliance:      params.Compliance,
		Metadata:        params.Metadata,
		Status:          StatusOpenForFunding,
		TotalRepaid:     new(uint256.Int),
		InvestorRateBps: terms.BorrowerRateBps - terms.PlatformRateBps,
		CreatedAt:       now.UTC(),
		ledger:          NewLedger(),
	}, nil
}

// Restore attaches persisted investors to a pool loaded from storage.
func Restore(p Pool, investors []Investor) (*Pool, error) {
	if !p.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidParameters, p.Status)
	}
	l, err := RestoreLedger(investors)
	if err != nil {
		return nil, err
	}
	if p.TotalRepaid == nil {
		p.TotalRepaid = new(uint256.Int)
	}
	p.ledger = l
	p.events = nil
	return &p, nil
}

func (p *Pool) Clone() *Pool {
	c := *p
	c.Terms.AmountNeeded = p.Terms.AmountNeeded.Clone()
	c.Terms.SetupFee = p.Terms.SetupFee.Clone()
	c.TotalRepaid = p.TotalRepaid.Clone()
	c.ledger = p.ledger.Clone()
	c.events = append([]Event(nil), p.events...)
	return &c
}

func (p *Pool) Ledger() *Ledger { return p.ledger }

func (p *Pool) TotalFunded() *uint256.Int { return p.ledger.Total() }

// DrainEvents returns the events recorded since the last drain.
func (p *Pool) DrainEvents() []Event {
	ev := p.events
	p.events = nil
	return ev
}

func (p *Pool) emit(kind EventKind, at time.Time, account common.Address, amount *uint256.Int) {
	p.events = append(p.events, Event{
		Kind:    kind,
		PoolID:  p.ID,
		At:      at.UTC(),
		Status:  p.Status,
		Account: account,
		Amount:  amount,
	})
}

// ---- projections (never mutate) ----

func (p *Pool) TotalDebt() *uint256.Int { return TotalDebt(p.Terms) }

func (p *Pool) NextPaymentAmount() *uint256.Int { return NextPaymentAmount(p.Terms) }

func (p *Pool) OutstandingPrincipal() *uint256.Int {
	return OutstandingPrincipal(p.Terms, p.PaymentsMade, p.TotalRepaid)
}

func (p *Pool) DefaultPenalty() *uint256.Int { return DefaultPenalty(p.Terms, p.PaymentsMade) }

// EarlyRepaymentPenalty is zero unless the loan is live.
func (p *Pool) EarlyRepaymentPenalty(now time.Time) *uint256.Int {
	if !p.Status.Repaying() {
		return new(uint256.Int)
	}
	return EarlyRepaymentPenalty(p.OutstandingPrincipal(), p.InvestorRateBps, p.Terms.TermMonths, p.StartedAt, now)
}

// NextPaymentDate is when the next installment is due, or the zero time
// when the loan is not live.
func (p *Pool) NextPaymentDate() time.Time {
	if !p.Status.Repaying() {
		return time.Time{}
	}
	return p.nextDue()
}

func (p *Pool) nextDue() time.Time {
	return p.StartedAt.Add(time.Duration(p.PaymentsMade+1) * PaymentInterval)
}

func (p *Pool) InvestorOwed(who common.Address) *uint256.Int {
	return p.ledger.Owed(who, p.TotalRepaid)
}

func (p *Pool) InvestorShare(who common.Address) *uint256.Int { return p.ledger.ShareOf(who) }

// RemainingNeed is how much more the pool accepts while open.
func (p *Pool) RemainingNeed() *uint256.Int {
	total := p.ledger.Total()
	if !total.Lt(p.Terms.AmountNeeded) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(p.Terms.AmountNeeded, total)
}
