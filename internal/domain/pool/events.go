package pool

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type EventKind string

const (
	EventFundingReceived    EventKind = "funding_received"
	EventFundingClosed      EventKind = "funding_closed"
	EventFundingFailed      EventKind = "funding_failed"
	EventLoanActivated      EventKind = "loan_activated"
	EventRepaymentMade      EventKind = "repayment_made"
	EventPaymentMissed      EventKind = "payment_missed"
	EventLoanDefaulted      EventKind = "loan_defaulted"
	EventFundsClaimed       EventKind = "funds_claimed"
	EventFundsRefunded      EventKind = "funds_refunded"
	EventLoanClosed         EventKind = "loan_closed"
	EventEarlyRepaymentMade EventKind = "early_repayment_made"
	EventInvestorChanged    EventKind = "investor_changed"
)

// Event is an observable fact about a pool. Account is the primary party;
// Counterparty is only set for investor changes (the new identity). ID is
// assigned when the event is recorded.
type Event struct {
	ID           string         `json:"id"`
	Kind         EventKind      `json:"kind"`
	PoolID       string         `json:"pool_id"`
	At           time.Time      `json:"at"`
	Status       Status         `json:"status"`
	Account      common.Address `json:"account"`
	Counterparty common.Address `json:"counterparty"`
	Amount       *uint256.Int   `json:"amount"`
}
