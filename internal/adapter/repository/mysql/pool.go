package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	poolDomain "lending-pool/internal/domain/pool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Table: pools. Amounts are decimal strings wide enough for any uint256.
type poolRow struct {
	ID                 uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	PoolID             string     `gorm:"column:pool_id;size:32;not null;uniqueIndex:ux_pools_pool_id"`
	CustodyAddress     string     `gorm:"column:custody_address;size:42;not null"`
	Borrower           string     `gorm:"column:borrower;size:42;not null;index:idx_pools_borrower"`
	EscrowAdmin        string     `gorm:"column:escrow_admin;size:42;not null"`
	FundingAsset       string     `gorm:"column:funding_asset;size:42;not null"`
	ProtocolWallet     string     `gorm:"column:protocol_wallet;size:42;not null"`
	ReserveFund        string     `gorm:"column:reserve_fund;size:42;not null"`
	AmountNeeded       string     `gorm:"column:amount_needed;type:varchar(78);not null"`
	BorrowerRateBps    uint64     `gorm:"column:borrower_rate_bps;not null"`
	PlatformRateBps    uint64     `gorm:"column:platform_rate_bps;not null"`
	TermMonths         uint64     `gorm:"column:term_months;not null"`
	FundingDeadline    time.Time  `gorm:"column:funding_deadline;not null"`
	SetupFee           string     `gorm:"column:setup_fee;type:varchar(78);not null"`
	ComplianceRequired bool       `gorm:"column:compliance_required;not null"`
	ComplianceRegistry string     `gorm:"column:compliance_registry;size:42"`
	ComplianceCategory string     `gorm:"column:compliance_category;size:128"`
	LoanDetailsURI     string     `gorm:"column:loan_details_uri;type:text"`
	AgreementURI       string     `gorm:"column:agreement_uri;type:text"`
	Status             string     `gorm:"column:status;size:24;not null;index:idx_pools_status"`
	TotalRepaid        string     `gorm:"column:total_repaid;type:varchar(78);not null"`
	PaymentsMade       uint64     `gorm:"column:payments_made;not null"`
	InvestorRateBps    uint64     `gorm:"column:investor_rate_bps;not null"`
	FundedAt           *time.Time `gorm:"column:funded_at"`
	StartedAt          *time.Time `gorm:"column:started_at"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (poolRow) TableName() string { return "pools" }

// Table: pool_investors. Position is the roster index.
type investorRow struct {
	ID              uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	PoolRef         uint64    `gorm:"column:pool_ref;not null;uniqueIndex:ux_pool_investors_position,priority:1"`
	Position        int       `gorm:"column:position;not null;uniqueIndex:ux_pool_investors_position,priority:2"`
	Address         string    `gorm:"column:address;size:42;not null;index:idx_pool_investors_address"`
	AmountFunded    string    `gorm:"column:amount_funded;type:varchar(78);not null"`
	AmountWithdrawn string    `gorm:"column:amount_withdrawn;type:varchar(78);not null"`
	Refunded        bool      `gorm:"column:refunded;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (investorRow) TableName() string { return "pool_investors" }

// Models lists the tables this package owns, for AutoMigrate.
func Models() []any { return []any{&poolRow{}, &investorRow{}, &eventRow{}} }

type PoolRepository struct{ db *gorm.DB }

func NewPoolRepository(db *gorm.DB) *PoolRepository { return &PoolRepository{db: db} }

// Tx runs fn in a db transaction, passing a repo bound to the tx
func (r *PoolRepository) Tx(ctx context.Context, fn func(repo poolDomain.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PoolRepository{db: tx})
	})
}

func (r *PoolRepository) Create(ctx context.Context, p *poolDomain.Pool) error {
	row := toPoolRow(p)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	return r.saveInvestors(ctx, row.ID, p)
}

func (r *PoolRepository) Save(ctx context.Context, p *poolDomain.Pool) error {
	var existing poolRow
	err := r.db.WithContext(ctx).Select("id").Where("pool_id = ?", p.ID).First(&existing).Error
	if err != nil {
		return translate(err)
	}
	row := toPoolRow(p)
	row.ID = existing.ID
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return err
	}
	return r.saveInvestors(ctx, row.ID, p)
}

// saveInvestors upserts the roster by position, so a reassigned identity
// overwrites its slot instead of adding one. Slots past the end of the
// roster are removed, which only happens when a pool is restored.
func (r *PoolRepository) saveInvestors(ctx context.Context, poolRef uint64, p *poolDomain.Pool) error {
	investors := p.Ledger().Investors()
	if err := r.db.WithContext(ctx).
		Where("pool_ref = ? AND position >= ?", poolRef, len(investors)).
		Delete(&investorRow{}).Error; err != nil {
		return err
	}
	if len(investors) == 0 {
		return nil
	}
	rows := make([]investorRow, 0, len(investors))
	for i, inv := range investors {
		rows = append(rows, investorRow{
			PoolRef:         poolRef,
			Position:        i,
			Address:         inv.Address.Hex(),
			AmountFunded:    inv.AmountFunded.Dec(),
			AmountWithdrawn: inv.AmountWithdrawn.Dec(),
			Refunded:        inv.Refunded,
		})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pool_ref"}, {Name: "position"}},
		DoUpdates: clause.AssignmentColumns([]string{"address", "amount_funded", "amount_withdrawn", "refunded", "updated_at"}),
	}).Create(&rows).Error
}

func (r *PoolRepository) GetByPoolID(ctx context.Context, poolID string) (*poolDomain.Pool, error) {
	return r.load(ctx, poolID, false)
}

func (r *PoolRepository) GetByPoolIDForUpdate(ctx context.Context, poolID string) (*poolDomain.Pool, error) {
	return r.load(ctx, poolID, true)
}

func (r *PoolRepository) load(ctx context.Context, poolID string, forUpdate bool) (*poolDomain.Pool, error) {
	q := r.db.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row poolRow
	if err := q.Where("pool_id = ?", poolID).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	var invRows []investorRow
	if err := r.db.WithContext(ctx).
		Where("pool_ref = ?", row.ID).
		Order("position ASC").
		Find(&invRows).Error; err != nil {
		return nil, err
	}
	return fromRows(row, invRows)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return poolDomain.ErrNotFound
	}
	return err
}

// ---- mapping ----

func toPoolRow(p *poolDomain.Pool) poolRow {
	return poolRow{
		PoolID:             p.ID,
		CustodyAddress:     p.Address.Hex(),
		Borrower:           p.Roles.Borrower.Hex(),
		EscrowAdmin:        p.Roles.EscrowAdmin.Hex(),
		FundingAsset:       p.Roles.FundingAsset.Hex(),
		ProtocolWallet:     p.Roles.ProtocolWallet.Hex(),
		ReserveFund:        p.Roles.ReserveFund.Hex(),
		AmountNeeded:       p.Terms.AmountNeeded.Dec(),
		BorrowerRateBps:    p.Terms.BorrowerRateBps,
		PlatformRateBps:    p.Terms.PlatformRateBps,
		TermMonths:         p.Terms.TermMonths,
		FundingDeadline:    p.Terms.FundingDeadline.UTC(),
		SetupFee:           p.Terms.SetupFee.Dec(),
		ComplianceRequired: p.Compliance.Required,
		ComplianceRegistry: p.Compliance.Registry.Hex(),
		ComplianceCategory: p.Compliance.Category,
		LoanDetailsURI:     p.Metadata.LoanDetailsURI,
		AgreementURI:       p.Metadata.AgreementURI,
		Status:             string(p.Status),
		TotalRepaid:        p.TotalRepaid.Dec(),
		PaymentsMade:       p.PaymentsMade,
		InvestorRateBps:    p.InvestorRateBps,
		FundedAt:           optionalTime(p.FundedAt),
		StartedAt:          optionalTime(p.StartedAt),
		CreatedAt:          p.CreatedAt.UTC(),
	}
}

func fromRows(row poolRow, invRows []investorRow) (*poolDomain.Pool, error) {
	needed, err := parseAmount("amount_needed", row.AmountNeeded)
	if err != nil {
		return nil, err
	}
	fee, err := parseAmount("setup_fee", row.SetupFee)
	if err != nil {
		return nil, err
	}
	repaid, err := parseAmount("total_repaid", row.TotalRepaid)
	if err != nil {
		return nil, err
	}
	investors := make([]poolDomain.Investor, 0, len(invRows))
	for _, ir := range invRows {
		funded, err := parseAmount("amount_funded", ir.AmountFunded)
		if err != nil {
			return nil, err
		}
		withdrawn, err := parseAmount("amount_withdrawn", ir.AmountWithdrawn)
		if err != nil {
			return nil, err
		}
		investors = append(investors, poolDomain.Investor{
			Address:         common.HexToAddress(ir.Address),
			AmountFunded:    funded,
			AmountWithdrawn: withdrawn,
			Refunded:        ir.Refunded,
		})
	}
	return poolDomain.Restore(poolDomain.Pool{
		ID:      row.PoolID,
		Address: common.HexToAddress(row.CustodyAddress),
		Roles: poolDomain.Roles{
			Borrower:       common.HexToAddress(row.Borrower),
			EscrowAdmin:    common.HexToAddress(row.EscrowAdmin),
			FundingAsset:   common.HexToAddress(row.FundingAsset),
			ProtocolWallet: common.HexToAddress(row.ProtocolWallet),
			ReserveFund:    common.HexToAddress(row.ReserveFund),
		},
		Terms: poolDomain.Terms{
			AmountNeeded:    needed,
			BorrowerRateBps: row.BorrowerRateBps,
			PlatformRateBps: row.PlatformRateBps,
			TermMonths:      row.TermMonths,
			FundingDeadline: row.FundingDeadline.UTC(),
			SetupFee:        fee,
		},
		Compliance: poolDomain.Compliance{
			Required: row.ComplianceRequired,
			Registry: common.HexToAddress(row.ComplianceRegistry),
			Category: row.ComplianceCategory,
		},
		Metadata: poolDomain.Metadata{
			LoanDetailsURI: row.LoanDetailsURI,
			AgreementURI:   row.AgreementURI,
		},
		Status:          poolDomain.Status(row.Status),
		TotalRepaid:     repaid,
		PaymentsMade:    row.PaymentsMade,
		InvestorRateBps: row.InvestorRateBps,
		FundedAt:        derefTime(row.FundedAt),
		StartedAt:       derefTime(row.StartedAt),
		CreatedAt:       row.CreatedAt.UTC(),
	}, investors)
}

func parseAmount(column, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", column, err)
	}
	return v, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
