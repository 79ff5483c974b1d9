package model

import "time"

// Dispatch statuses for an approved order handed to the execution side.
const (
	DispatchStatusSent   = "sent"
	DispatchStatusDryRun = "dry_run"
	DispatchStatusError  = "error"
)

// OrderDispatchLog stores each attempt to hand an approved order to the
// execution side and what came back.
type OrderDispatchLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	OrderID  uint   `gorm:"index" json:"order_id"`
	SignalID string `gorm:"size:64;index" json:"signal_id"`

	Sink         string     `gorm:"size:30" json:"sink"`            // dryrun | webhook
	Status       string     `gorm:"size:20;not null" json:"status"` // see DispatchStatus* constants
	ExternalID   string     `gorm:"size:255" json:"external_id"`    // id returned by the execution side
	ErrorMessage *string    `json:"error_message,omitempty"`
	RequestedAt  time.Time  `json:"requested_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TableName allows you to control the exact table name for dispatch logs.
func (OrderDispatchLog) TableName() string {
	return "order_dispatch_logs"
}
