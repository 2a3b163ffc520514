package pool

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Status string

const (
	StatusOpenForFunding Status = "open_for_funding"
	StatusFunded         Status = "funded"
	StatusFundingFailed  Status = "funding_failed"
	StatusActive         Status = "active"
	StatusPreDefault     Status = "pre_default"
	StatusDefaulted      Status = "defaulted"
	StatusClosed         Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpenForFunding, StatusFunded, StatusFundingFailed,
		StatusActive, StatusPreDefault, StatusDefaulted, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether principal can no longer move. Settlement
// (claims, refunds) may still continue.
func (s Status) Terminal() bool {
	return s == StatusFundingFailed || s == StatusDefaulted || s == StatusClosed
}

// Repaying reports whether the loan is live and accepting repayments.
func (s Status) Repaying() bool { return s == StatusActive || s == StatusPreDefault }

// Construction bounds. Respecting them keeps every intermediate product of
// the finance functions inside 256 bits.
const (
	MaxBorrowerRateBps = 1_000_000
	MaxTermMonths      = 1_200
)

var maxAmount = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

// Roles are fixed at construction.
type Roles struct {
	Borrower       common.Address `json:"borrower"`
	EscrowAdmin    common.Address `json:"escrow_admin"`
	FundingAsset   common.Address `json:"funding_asset"`
	ProtocolWallet common.Address `json:"protocol_wallet"`
	ReserveFund    common.Address `json:"reserve_fund"`
}

// Terms are the loan parameters.
type Terms struct {
	AmountNeeded    *uint256.Int `json:"amount_needed"`
	BorrowerRateBps uint64       `json:"borrower_rate_bps"`
	PlatformRateBps uint64       `json:"platform_rate_bps"`
	TermMonths      uint64       `json:"term_months"`
	FundingDeadline time.Time    `json:"funding_deadline"`
	SetupFee        *uint256.Int `json:"setup_fee"`
}

// Compliance enables KYC gating of fund calls when Required is set.
type Compliance struct {
	Required bool           `json:"required"`
	Registry common.Address `json:"registry"`
	Category string         `json:"category"`
}

type Metadata struct {
	LoanDetailsURI string `json:"loan_details_uri"`
	AgreementURI   string `json:"agreement_uri"`
}

// Params groups everything needed to deploy a pool.
type Params struct {
	Roles      Roles
	Terms      Terms
	Compliance Compliance
	Metadata   Metadata
}

func (r Roles) validate() error {
	for name, a := range map[string]common.Address{
		"borrower":        r.Borrower,
		"escrow admin":    r.EscrowAdmin,
		"funding asset":   r.FundingAsset,
		"protocol wallet": r.ProtocolWallet,
		"reserve fund":    r.ReserveFund,
	} {
		if a == (common.Address{}) {
			return fmt.Errorf("%w: %s is zero", ErrInvalidAddress, name)
		}
	}
	return nil
}

func (t Terms) validate(now time.Time) error {
	switch {
	case t.AmountNeeded == nil || t.AmountNeeded.IsZero():
		return fmt.Errorf("%w: amount needed must be positive", ErrInvalidParameters)
	case !t.AmountNeeded.Lt(maxAmount):
		return fmt.Errorf("%w: amount needed too large", ErrInvalidParameters)
	case t.BorrowerRateBps <= t.PlatformRateBps:
		return fmt.Errorf("%w: borrower rate must exceed platform rate", ErrInvalidParameters)
	case t.BorrowerRateBps > MaxBorrowerRateBps:
		return fmt.Errorf("%w: borrower rate above %d bps", ErrInvalidParameters, MaxBorrowerRateBps)
	case t.TermMonths < 1 || t.TermMonths > MaxTermMonths:
		return fmt.Errorf("%w: term must be 1..%d months", ErrInvalidParameters, MaxTermMonths)
	case !t.FundingDeadline.After(now):
		return fmt.Errorf("%w: funding deadline must be in the future", ErrInvalidParameters)
	}
	fee := t.SetupFee
	if fee == nil {
		fee = new(uint256.Int)
	}
	carveOut := new(uint256.Int).Add(fee, bps(t.AmountNeeded, ReserveFundBps+SuccessFeeBps))
	if carveOut.Gt(t.AmountNeeded) {
		return fmt.Errorf("%w: setup fee leaves nothing to disburse", ErrInvalidParameters)
	}
	return nil
}

func (c Compliance) validate() error {
	if !c.Required {
		return nil
	}
	if c.Registry == (common.Address{}) {
		return fmt.Errorf("%w: compliance registry is zero", ErrInvalidAddress)
	}
	if c.Category == "" {
		return fmt.Errorf("%w: compliance category is empty", ErrInvalidParameters)
	}
	return nil
}

// Validate checks the construction invariants against the deployment time.
func (p Params) Validate(now time.Time) error {
	if err := p.Roles.validate(); err != nil {
		return err
	}
	if err := p.Terms.validate(now); err != nil {
		return err
	}
	return p.Compliance.validate()
}
