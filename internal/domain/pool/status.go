package pool

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Advance applies every transition that is due at now. It runs at the start
// of each mutating operation; nothing else moves the status on time alone.
// Rules are applied once each, in this order, so an Active loan more than two
// grace periods late is penalised on its way through PreDefault to Defaulted.
func (p *Pool) Advance(now time.Time) {
	if p.Status == StatusOpenForFunding && now.After(p.Terms.FundingDeadline) {
		if !p.ledger.Total().Lt(p.Terms.AmountNeeded) {
			p.markFunded(now)
		}
	}
	if p.Status == StatusOpenForFunding && now.After(p.Terms.FundingDeadline) {
		p.markFundingFailed(now)
	}
	if p.Status == StatusFunded && now.After(p.FundedAt.Add(ActivationWindow)) {
		p.markFundingFailed(now)
	}
	if p.Status == StatusActive && now.After(p.nextDue().Add(GracePeriod)) {
		penalty := p.DefaultPenalty()
		p.TotalRepaid.Add(p.TotalRepaid, penalty)
		p.Status = StatusPreDefault
		p.emit(EventPaymentMissed, now, p.Roles.Borrower, penalty.Clone())
	}
	if p.Status == StatusPreDefault && now.After(p.nextDue().Add(2*GracePeriod)) {
		p.Status = StatusDefaulted
		p.emit(EventLoanDefaulted, now, p.Roles.Borrower, p.OutstandingPrincipal())
	}
}

func (p *Pool) markFunded(now time.Time) {
	p.Status = StatusFunded
	p.FundedAt = now.UTC()
	p.emit(EventFundingClosed, now, common.Address{}, p.ledger.Total())
}

func (p *Pool) markFundingFailed(now time.Time) {
	p.Status = StatusFundingFailed
	p.emit(EventFundingFailed, now, common.Address{}, p.ledger.Total())
}

func (p *Pool) requireStatus(allowed ...Status) error {
	for _, s := range allowed {
		if p.Status == s {
			return nil
		}
	}
	return ErrInvalidStatus
}
