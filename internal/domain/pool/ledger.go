package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Investor is one participant's position in the pool.
type Investor struct {
	Address         common.Address
	AmountFunded    *uint256.Int
	AmountWithdrawn *uint256.Int
	Refunded        bool
}

func (i *Investor) clone() *Investor {
	return &Investor{
		Address:         i.Address,
		AmountFunded:    i.AmountFunded.Clone(),
		AmountWithdrawn: i.AmountWithdrawn.Clone(),
		Refunded:        i.Refunded,
	}
}

// Ledger maps participants to their contributions. The roster keeps first
// contribution order; Reassign replaces an entry in place.
type Ledger struct {
	roster  []common.Address
	records map[common.Address]*Investor
	total   *uint256.Int
}

func NewLedger() *Ledger {
	return &Ledger{records: make(map[common.Address]*Investor), total: new(uint256.Int)}
}

// RestoreLedger rebuilds a ledger from persisted investors in roster order.
func RestoreLedger(investors []Investor) (*Ledger, error) {
	l := NewLedger()
	for _, inv := range investors {
		if inv.Address == (common.Address{}) {
			return nil, fmt.Errorf("%w: zero investor address", ErrInvalidAddress)
		}
		if _, dup := l.records[inv.Address]; dup {
			return nil, fmt.Errorf("%w: %s", ErrInvestorExists, inv.Address.Hex())
		}
		if inv.AmountFunded == nil || inv.AmountFunded.IsZero() {
			return nil, fmt.Errorf("%w: investor %s has no contribution", ErrInvalidAmount, inv.Address.Hex())
		}
		rec := &Investor{
			Address:         inv.Address,
			AmountFunded:    inv.AmountFunded.Clone(),
			AmountWithdrawn: new(uint256.Int),
			Refunded:        inv.Refunded,
		}
		if inv.AmountWithdrawn != nil {
			rec.AmountWithdrawn.Set(inv.AmountWithdrawn)
		}
		l.roster = append(l.roster, inv.Address)
		l.records[inv.Address] = rec
		l.total.Add(l.total, rec.AmountFunded)
	}
	return l, nil
}

func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		roster:  append([]common.Address(nil), l.roster...),
		records: make(map[common.Address]*Investor, len(l.records)),
		total:   l.total.Clone(),
	}
	for k, v := range l.records {
		c.records[k] = v.clone()
	}
	return c
}

// Total is the sum of every contribution.
func (l *Ledger) Total() *uint256.Int { return l.total.Clone() }

func (l *Ledger) Len() int { return len(l.roster) }

func (l *Ledger) IsInvestor(who common.Address) bool {
	_, ok := l.records[who]
	return ok
}

// Investor returns a copy of who's record.
func (l *Ledger) Investor(who common.Address) (Investor, bool) {
	rec, ok := l.records[who]
	if !ok {
		return Investor{}, false
	}
	return *rec.clone(), true
}

// Investors returns copies of every record in roster order.
func (l *Ledger) Investors() []Investor {
	out := make([]Investor, 0, len(l.roster))
	for _, a := range l.roster {
		out = append(out, *l.records[a].clone())
	}
	return out
}

func (l *Ledger) RecordContribution(who common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if who == (common.Address{}) {
		return ErrInvalidAddress
	}
	rec, ok := l.records[who]
	if !ok {
		rec = &Investor{Address: who, AmountFunded: new(uint256.Int), AmountWithdrawn: new(uint256.Int)}
		l.records[who] = rec
		l.roster = append(l.roster, who)
	}
	rec.AmountFunded.Add(rec.AmountFunded, amount)
	l.total.Add(l.total, amount)
	return nil
}

// ShareOf is who's contribution as a fraction of the total, scaled by Scale.
func (l *Ledger) ShareOf(who common.Address) *uint256.Int {
	rec, ok := l.records[who]
	if !ok || l.total.IsZero() {
		return new(uint256.Int)
	}
	return mulDiv(rec.AmountFunded, Scale, l.total)
}

// Owed is who's pro-rata part of totalRepaid minus what was already
// withdrawn, floored at zero.
func (l *Ledger) Owed(who common.Address, totalRepaid *uint256.Int) *uint256.Int {
	rec, ok := l.records[who]
	if !ok {
		return new(uint256.Int)
	}
	entitled := mulDiv(totalRepaid, l.ShareOf(who), Scale)
	if !entitled.Gt(rec.AmountWithdrawn) {
		return new(uint256.Int)
	}
	return entitled.Sub(entitled, rec.AmountWithdrawn)
}

func (l *Ledger) Withdraw(who common.Address, amount, totalRepaid *uint256.Int) error {
	rec, ok := l.records[who]
	if !ok {
		return ErrNotAnInvestor
	}
	owed := l.Owed(who, totalRepaid)
	if owed.IsZero() {
		return ErrNothingToClaim
	}
	if amount == nil || amount.IsZero() || amount.Gt(owed) {
		return fmt.Errorf("%w: withdrawal exceeds owed %s", ErrInvalidAmount, owed.Dec())
	}
	rec.AmountWithdrawn.Add(rec.AmountWithdrawn, amount)
	return nil
}

func (l *Ledger) MarkRefunded(who common.Address) error {
	rec, ok := l.records[who]
	if !ok {
		return ErrNotAnInvestor
	}
	if rec.Refunded {
		return ErrAlreadyRefunded
	}
	rec.Refunded = true
	return nil
}

// Reassign moves old's record to next, keeping its roster position.
func (l *Ledger) Reassign(old, next common.Address) error {
	rec, ok := l.records[old]
	if !ok {
		return ErrNotAnInvestor
	}
	if next == (common.Address{}) {
		return ErrInvalidAddress
	}
	if _, taken := l.records[next]; taken {
		return ErrInvestorExists
	}
	for i, a := range l.roster {
		if a == old {
			l.roster[i] = next
			break
		}
	}
	delete(l.records, old)
	rec.Address = next
	l.records[next] = rec
	return nil
}
