package mysql

import (
	"context"
	"encoding/json"
	"time"

	poolDomain "lending-pool/internal/domain/pool"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Table: pool_events. Rows are only deleted when the operation that
// recorded them is rolled back after its commit.
type eventRow struct {
	ID           uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	EventID      string         `gorm:"column:event_id;size:32;index:idx_pool_events_event"`
	PoolID       string         `gorm:"column:pool_id;size:32;not null;index:idx_pool_events_pool"`
	Kind         string         `gorm:"column:kind;size:32;not null"`
	Status       string         `gorm:"column:status;size:24;not null"`
	Account      string         `gorm:"column:account;size:42"`
	Counterparty string         `gorm:"column:counterparty;size:42"`
	Amount       string         `gorm:"column:amount;type:varchar(78)"`
	OccurredAt   time.Time      `gorm:"column:occurred_at;not null"`
	Payload      datatypes.JSON `gorm:"column:payload"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (eventRow) TableName() string { return "pool_events" }

// payload is the wire shape published to monitoring consumers.
type payload struct {
	ID           string    `json:"id,omitempty"`
	Kind         string    `json:"kind"`
	PoolID       string    `json:"pool_id"`
	Status       string    `json:"status"`
	At           time.Time `json:"at"`
	Account      string    `json:"account,omitempty"`
	Counterparty string    `json:"counterparty,omitempty"`
	Amount       string    `json:"amount,omitempty"`
}

type EventRepository struct{ db *gorm.DB }

func NewEventRepository(db *gorm.DB) *EventRepository { return &EventRepository{db: db} }

func (r *EventRepository) Append(ctx context.Context, events []poolDomain.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]eventRow, 0, len(events))
	for _, ev := range events {
		row := toEventRow(ev)
		b, err := json.Marshal(payload{
			ID:           row.EventID,
			Kind:         row.Kind,
			PoolID:       row.PoolID,
			Status:       row.Status,
			At:           row.OccurredAt,
			Account:      row.Account,
			Counterparty: row.Counterparty,
			Amount:       row.Amount,
		})
		if err != nil {
			return err
		}
		row.Payload = datatypes.JSON(b)
		rows = append(rows, row)
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *EventRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("event_id IN ?", ids).Delete(&eventRow{}).Error
}

// ListByPoolID returns the newest limit events, oldest first.
func (r *EventRepository) ListByPoolID(ctx context.Context, poolID string, limit int) ([]poolDomain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []eventRow
	if err := r.db.WithContext(ctx).
		Where("pool_id = ?", poolID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]poolDomain.Event, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		ev, err := fromEventRow(rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func toEventRow(ev poolDomain.Event) eventRow {
	row := eventRow{
		EventID:    ev.ID,
		PoolID:     ev.PoolID,
		Kind:       string(ev.Kind),
		Status:     string(ev.Status),
		OccurredAt: ev.At.UTC(),
	}
	if ev.Account != (common.Address{}) {
		row.Account = ev.Account.Hex()
	}
	if ev.Counterparty != (common.Address{}) {
		row.Counterparty = ev.Counterparty.Hex()
	}
	if ev.Amount != nil {
		row.Amount = ev.Amount.Dec()
	}
	return row
}

func fromEventRow(row eventRow) (poolDomain.Event, error) {
	ev := poolDomain.Event{
		ID:     row.EventID,
		Kind:   poolDomain.EventKind(row.Kind),
		PoolID: row.PoolID,
		Status: poolDomain.Status(row.Status),
		At:     row.OccurredAt.UTC(),
	}
	if row.Account != "" {
		ev.Account = common.HexToAddress(row.Account)
	}
	if row.Counterparty != "" {
		ev.Counterparty = common.HexToAddress(row.Counterparty)
	}
	if row.Amount != "" {
		amt, err := uint256.FromDecimal(row.Amount)
		if err != nil {
			return ev, err
		}
		ev.Amount = amt
	}
	return ev, nil
}
