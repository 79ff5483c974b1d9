package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusApproved   = "approved"
	OrderStatusDispatched = "dispatched"
	OrderStatusFailed     = "failed"
	OrderStatusOpen       = "open"
	OrderStatusSettled    = "settled"
)

// ApprovedOrder is what the gateway hands to the execution side for an
// approved verdict. It keeps a snapshot of the originating signal so a later
// fill can be traced back to it.
type ApprovedOrder struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	SignalID       string          `gorm:"size:64;uniqueIndex;not null" json:"signal_id"`
	ClientOrderID  string          `gorm:"size:64;not null" json:"client_order_id"`
	AccountID      AccountID       `gorm:"size:64;index" json:"account_id"`
	AnalystID      AnalystID       `gorm:"size:120;index" json:"analyst_id"`
	Symbol         string          `gorm:"size:50;not null" json:"symbol"`
	Side           Side            `gorm:"size:10;not null" json:"side"`
	OrderType      OrderType       `gorm:"size:10;not null" json:"order_type"`
	Size           decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"size"`
	LimitPrice     decimal.Decimal `gorm:"type:decimal(20,8)" json:"limit_price"` // zero for market orders
	PriceRewritten bool            `gorm:"not null" json:"price_rewritten"`
	RuleSetVersion uint64          `json:"rule_set_version"`
	Status         string          `gorm:"size:20;not null" json:"status"`
	Signal         string          `gorm:"type:text" json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	Logs []OrderDispatchLog `gorm:"foreignKey:OrderID" json:"dispatch_logs,omitempty"`
}

// TableName allows you to control the exact table name for orders.
func (ApprovedOrder) TableName() string {
	return "orders"
}
