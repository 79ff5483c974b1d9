package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
	OutcomeNeutral Outcome = "neutral"
)

// OutcomeFromPnL classifies a realized P&L.
func OutcomeFromPnL(pnl decimal.Decimal) Outcome {
	switch pnl.Sign() {
	case 1:
		return OutcomeWin
	case -1:
		return OutcomeLoss
	}
	return OutcomeNeutral
}

// Settlement is the realized result of an approved signal. Key is the
// idempotency key; the same key is never counted twice.
type Settlement struct {
	Key       string          `gorm:"primaryKey;size:128" json:"key"`
	AnalystID AnalystID       `gorm:"size:120;not null;index" json:"analyst_id"`
	SignalID  string          `gorm:"size:64;index" json:"signal_id"`
	AccountID AccountID       `gorm:"size:64" json:"account_id"`
	Outcome   Outcome         `gorm:"size:10;not null" json:"outcome"`
	PnL       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"pnl"`
	SettledAt time.Time       `gorm:"not null" json:"settled_at"`
}

// TableName keeps the settlements table name stable.
func (Settlement) TableName() string {
	return "settlements"
}

type FillKind string

const (
	FillOpen  FillKind = "open"
	FillClose FillKind = "close"
)

// FillResult is what the execution side reports back for an approved order.
type FillResult struct {
	FillID      string          `json:"fill_id"`
	SignalID    string          `json:"signal_id"`
	Kind        FillKind        `json:"kind"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Outcome     Outcome         `json:"outcome,omitempty"` // derived from RealizedPnL when empty
	FilledAt    time.Time       `json:"filled_at"`
}
