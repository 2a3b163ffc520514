package poolmock

import (
	"time"

	domain "lending-pool/internal/domain/pool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Well-known identities for tests.
var (
	Borrower       = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	EscrowAdmin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	FundingAsset   = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	ProtocolWallet = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	ReserveFund    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	Registry       = common.HexToAddress("0x00000000000000000000000000000000000000c0")

	InvestorA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	InvestorB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	InvestorC = common.HexToAddress("0x000000000000000000000000000000000000000c")
)

// Params returns a valid deployment: 1000 units at 12% for 12 months with a
// 10% platform cut, a setup fee of 20 and a deadline ten days after now.
//
// Derived figures: total debt 1120, installment 93, activation legs
// 20/50/30/900.
func Params(now time.Time) domain.Params {
	return domain.Params{
		Roles: domain.Roles{
			Borrower:       Borrower,
			EscrowAdmin:    EscrowAdmin,
			FundingAsset:   FundingAsset,
			ProtocolWallet: ProtocolWallet,
			ReserveFund:    ReserveFund,
		},
		Terms: domain.Terms{
			AmountNeeded:    uint256.NewInt(1000),
			BorrowerRateBps: 1200,
			PlatformRateBps: 200,
			TermMonths:      12,
			FundingDeadline: now.Add(10 * domain.Day),
			SetupFee:        uint256.NewInt(20),
		},
		Metadata: domain.Metadata{
			LoanDetailsURI: "ipfs://loan",
			AgreementURI:   "ipfs://agreement",
		},
	}
}

// NewPool builds a pool from Params(now) or fails the calling test.
func NewPool(t interface{ Fatalf(string, ...any) }, id string, now time.Time) *domain.Pool {
	p, err := domain.New(id, Params(now), now)
	if err != nil {
		t.Fatalf("domain.New: %v", err)
	}
	return p
}
