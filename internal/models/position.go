package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PositionStatus tracks where an engine position is in its lifecycle.
type PositionStatus string

const (
	// PositionPending is a submitted buy order that has not filled yet.
	PositionPending  PositionStatus = "pending"
	PositionOpen     PositionStatus = "open"
	PositionClosed   PositionStatus = "closed"
	PositionOrphaned PositionStatus = "orphaned"
	// PositionCanceled is a buy order that ended without any fill.
	PositionCanceled PositionStatus = "canceled"
)

// Position is the engine's record of a position from its buy order to its
// exit. At most one pending or open position per symbol is expected.
type Position struct {
	gorm.Model
	Symbol       string          `gorm:"index;not null"`
	Status       PositionStatus  `gorm:"index;not null"`
	EntryOrderID string          `gorm:"not null"`
	ExitOrderID  string
	Quantity     decimal.Decimal `gorm:"type:text;not null"`
	EntryPrice   decimal.Decimal `gorm:"type:text;not null"`
	TargetPrice  decimal.Decimal `gorm:"type:text"`
	StopPrice    decimal.Decimal `gorm:"type:text"`
	EntryTime    time.Time
	ExitTime     *time.Time
}

// ToTrade converts a closed position into a ledger record.
func (p *Position) ToTrade(exitPrice decimal.Decimal, exitTime time.Time, exitType ExitType) (Trade, error) {
	t, err := NewTrade(p.Symbol, p.EntryPrice, exitPrice, p.Quantity, p.EntryTime, exitTime)
	if err != nil {
		return Trade{}, err
	}
	t.ExitType = exitType
	return t, nil
}
