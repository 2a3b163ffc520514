package pool

import (
	"time"

	domain "lending-pool/internal/domain/pool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

type PoolDTO struct {
	PoolID         string `json:"pool_id"`
	CustodyAddress string `json:"custody_address"`
	Status         string `json:"status"`

	Borrower       string `json:"borrower"`
	EscrowAdmin    string `json:"escrow_admin"`
	FundingAsset   string `json:"funding_asset"`
	ProtocolWallet string `json:"protocol_wallet"`
	ReserveFund    string `json:"reserve_fund"`

	AmountNeeded    string    `json:"amount_needed"`
	BorrowerRateBps uint64    `json:"borrower_rate_bps"`
	PlatformRateBps uint64    `json:"platform_rate_bps"`
	InvestorRateBps uint64    `json:"investor_rate_bps"`
	TermMonths      uint64    `json:"term_months"`
	FundingDeadline time.Time `json:"funding_deadline"`
	SetupFee        string    `json:"setup_fee"`

	ComplianceRequired bool   `json:"compliance_required"`
	ComplianceCategory string `json:"compliance_category,omitempty"`
	LoanDetailsURI     string `json:"loan_details_uri,omitempty"`
	AgreementURI       string `json:"agreement_uri,omitempty"`

	TotalFunded   string     `json:"total_funded"`
	TotalRepaid   string     `json:"total_repaid"`
	PaymentsMade  uint64     `json:"payments_made"`
	InvestorCount int        `json:"investor_count"`
	FundedAt      *time.Time `json:"funded_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`

	// projections against the persisted status
	TotalDebt             string     `json:"total_debt"`
	OutstandingPrincipal  string     `json:"outstanding_principal"`
	NextPaymentAmount     string     `json:"next_payment_amount"`
	NextPaymentDate       *time.Time `json:"next_payment_date,omitempty"`
	DefaultPenalty        string     `json:"default_penalty"`
	EarlyRepaymentPenalty string     `json:"early_repayment_penalty"`
}

type InvestorDTO struct {
	PoolID          string `json:"pool_id"`
	Address         string `json:"address"`
	AmountFunded    string `json:"amount_funded"`
	AmountWithdrawn string `json:"amount_withdrawn"`
	Refunded        bool   `json:"refunded"`
	Share           string `json:"share"` // fraction of the pool, e.g. "0.6"
	Owed            string `json:"owed"`
}

type EventDTO struct {
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	At           time.Time `json:"at"`
	Account      string    `json:"account,omitempty"`
	Counterparty string    `json:"counterparty,omitempty"`
	Amount       string    `json:"amount,omitempty"`
}

type FundResult struct {
	PoolID   string `json:"pool_id"`
	Investor string `json:"investor"`
	Accepted string `json:"accepted"`
	Returned string `json:"returned"`
	Status   string `json:"status"`
}

// OperationResult is returned by every other mutating operation. Amount is
// the value moved, when there was one.
type OperationResult struct {
	PoolID string `json:"pool_id"`
	Status string `json:"status"`
	Amount string `json:"amount,omitempty"`
}

func toPoolDTO(p *domain.Pool, now time.Time) *PoolDTO {
	dto := &PoolDTO{
		PoolID:                p.ID,
		CustodyAddress:        p.Address.Hex(),
		Status:                string(p.Status),
		Borrower:              p.Roles.Borrower.Hex(),
		EscrowAdmin:           p.Roles.EscrowAdmin.Hex(),
		FundingAsset:          p.Roles.FundingAsset.Hex(),
		ProtocolWallet:        p.Roles.ProtocolWallet.Hex(),
		ReserveFund:           p.Roles.ReserveFund.Hex(),
		AmountNeeded:          p.Terms.AmountNeeded.Dec(),
		BorrowerRateBps:       p.Terms.BorrowerRateBps,
		PlatformRateBps:       p.Terms.PlatformRateBps,
		InvestorRateBps:       p.InvestorRateBps,
		TermMonths:            p.Terms.TermMonths,
		FundingDeadline:       p.Terms.FundingDeadline,
		SetupFee:              p.Terms.SetupFee.Dec(),
		ComplianceRequired:    p.Compliance.Required,
		ComplianceCategory:    p.Compliance.Category,
		LoanDetailsURI:        p.Metadata.LoanDetailsURI,
		AgreementURI:          p.Metadata.AgreementURI,
		TotalFunded:           p.TotalFunded().Dec(),
		TotalRepaid:           p.TotalRepaid.Dec(),
		PaymentsMade:          p.PaymentsMade,
		InvestorCount:         p.Ledger().Len(),
		FundedAt:              timePtr(p.FundedAt),
		StartedAt:             timePtr(p.StartedAt),
		CreatedAt:             p.CreatedAt,
		TotalDebt:             p.TotalDebt().Dec(),
		OutstandingPrincipal:  p.OutstandingPrincipal().Dec(),
		NextPaymentAmount:     p.NextPaymentAmount().Dec(),
		NextPaymentDate:       timePtr(p.NextPaymentDate()),
		DefaultPenalty:        p.DefaultPenalty().Dec(),
		EarlyRepaymentPenalty: p.EarlyRepaymentPenalty(now).Dec(),
	}
	return dto
}

func toInvestorDTO(p *domain.Pool, inv domain.Investor) *InvestorDTO {
	return &InvestorDTO{
		PoolID:          p.ID,
		Address:         inv.Address.Hex(),
		AmountFunded:    inv.AmountFunded.Dec(),
		AmountWithdrawn: inv.AmountWithdrawn.Dec(),
		Refunded:        inv.Refunded,
		Share:           ShareFraction(p.InvestorShare(inv.Address)).String(),
		Owed:            p.InvestorOwed(inv.Address).Dec(),
	}
}

func toEventDTO(ev domain.Event) EventDTO {
	dto := EventDTO{Kind: string(ev.Kind), Status: string(ev.Status), At: ev.At}
	if ev.Account != (common.Address{}) {
		dto.Account = ev.Account.Hex()
	}
	if ev.Counterparty != (common.Address{}) {
		dto.Counterparty = ev.Counterparty.Hex()
	}
	if ev.Amount != nil {
		dto.Amount = ev.Amount.Dec()
	}
	return dto
}

// ShareFraction converts a Scale-based share into a decimal fraction.
func ShareFraction(share *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(share.ToBig(), -18)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
