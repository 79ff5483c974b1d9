package externalmodel

import "time"

// AnalystSignal is a raw trade call captured by the chat bot from a Discord
// channel or user. The gateway only reads this table.
type AnalystSignal struct {
	ID          uint       `gorm:"primaryKey;column:id" json:"id"`
	Source      string     `gorm:"column:source" json:"source"`         // channel | user | manual
	SourceRef   string     `gorm:"column:source_ref" json:"source_ref"` // channel or author id
	AnalystID   string     `gorm:"column:analyst_id" json:"analyst_id,omitempty"`
	AccountID   string     `gorm:"column:account_id" json:"account_id,omitempty"`
	Symbol      string     `gorm:"column:symbol" json:"symbol"`
	Action      string     `gorm:"column:action" json:"action"`
	OrderType   string     `gorm:"column:order_type" json:"order_type"`
	Qty         float64    `gorm:"column:qty" json:"qty"`
	Price       *float64   `gorm:"column:price" json:"price,omitempty"`
	Bid         *float64   `gorm:"column:bid" json:"bid,omitempty"`
	Ask         *float64   `gorm:"column:ask" json:"ask,omitempty"`
	Reference   *float64   `gorm:"column:reference_price" json:"reference_price,omitempty"`
	QuotedAt    *time.Time `gorm:"column:quoted_at" json:"quoted_at,omitempty"`
	TimestampDT *time.Time `gorm:"column:timestamp_dt" json:"timestamp_dt,omitempty"`
	Message     string     `gorm:"column:message" json:"message"`
	ReceivedAt  *time.Time `gorm:"column:received_at" json:"received_at,omitempty"`
}

// TableName ensures that GORM uses the exact table name from the bot database.
func (AnalystSignal) TableName() string {
	return "analyst_signals"
}
