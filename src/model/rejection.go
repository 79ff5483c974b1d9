package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleID names the check that produced a rejection.
type RuleID string

const (
	RuleUnknownAnalyst      RuleID = "UnknownAnalyst"
	RuleMalformedSignal     RuleID = "MalformedSignal"
	RuleAnalystDisabled     RuleID = "AnalystDisabled"
	RuleDailyLossLimit      RuleID = "DailyLossLimit"
	RuleEquityFloor         RuleID = "EquityFloor"
	RuleStaleMarketSnapshot RuleID = "StaleMarketSnapshot"
	RulePriceConfirmation   RuleID = "PriceConfirmation"
	RuleSpreadProtection    RuleID = "SpreadProtection"
)

// RejectionRecord is one append-only audit row. Seq is assigned by the ledger
// in arrival order and is the replay order.
type RejectionRecord struct {
	Seq            uint64          `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	RecordedAt     time.Time       `gorm:"not null;index" json:"recorded_at"`
	SignalID       string          `gorm:"size:64;index" json:"signal_id"`
	AccountID      AccountID       `gorm:"size:64;index" json:"account_id"`
	AnalystID      AnalystID       `gorm:"size:120;index" json:"analyst_id"`
	Symbol         string          `gorm:"size:50" json:"symbol"`
	Side           Side            `gorm:"size:10" json:"side"`
	OrderType      OrderType       `gorm:"size:10" json:"order_type"`
	Size           decimal.Decimal `gorm:"type:decimal(20,8)" json:"size"`
	Price          decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	RuleID         RuleID          `gorm:"size:40;not null;index" json:"rule_id"`
	Reason         string          `gorm:"type:text;not null" json:"reason"`
	RuleSetVersion uint64          `json:"rule_set_version"`
	Signal         string          `gorm:"type:text" json:"signal,omitempty"` // JSON snapshot of the signal
}

// TableName keeps the ledger table name stable.
func (RejectionRecord) TableName() string {
	return "rejection_records"
}

type AnalystEventKind string

const (
	AnalystEventRegistered   AnalystEventKind = "registered"
	AnalystEventEnabled      AnalystEventKind = "enabled"
	AnalystEventDisabled     AnalystEventKind = "disabled"
	AnalystEventAutoDisabled AnalystEventKind = "auto_disabled"
	AnalystEventRemoved      AnalystEventKind = "removed"
)

const (
	ActorOperator = "operator"
	ActorTracker  = "tracker"
)

// AnalystEvent records why an analyst changed state. It sits next to the
// rejection records so observers can see why an analyst stopped being used.
type AnalystEvent struct {
	Seq           uint64           `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	RecordedAt    time.Time        `gorm:"not null;index" json:"recorded_at"`
	AnalystID     AnalystID        `gorm:"size:120;not null;index" json:"analyst_id"`
	Kind          AnalystEventKind `gorm:"size:30;not null" json:"kind"`
	Reason        string           `gorm:"type:text" json:"reason"`
	ExpectedValue float64          `json:"expected_value"`
	Actor         string           `gorm:"size:20" json:"actor"`
}

// TableName keeps the analyst event table name stable.
func (AnalystEvent) TableName() string {
	return "analyst_events"
}
