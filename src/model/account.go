package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Exposure maps symbol to signed open size, buys positive.
type Exposure map[string]decimal.Decimal

// Value stores exposure as a JSON document.
func (e Exposure) Value() (driver.Value, error) {
	return jsonValue(map[string]decimal.Decimal(e))
}

// Scan loads exposure from a JSON text/bytes column.
func (e *Exposure) Scan(src interface{}) error {
	out := map[string]decimal.Decimal{}
	if err := jsonScan(src, &out); err != nil {
		return fmt.Errorf("scan exposure: %w", err)
	}
	*e = out
	return nil
}

// OpenFills maps an applied open fill id to its signal id. It is stored with
// the account so a replayed open fill is still recognised after a restart.
type OpenFills map[string]string

func (o OpenFills) Value() (driver.Value, error) {
	return jsonValue(map[string]string(o))
}

func (o *OpenFills) Scan(src interface{}) error {
	out := map[string]string{}
	if err := jsonScan(src, &out); err != nil {
		return fmt.Errorf("scan open fills: %w", err)
	}
	*o = out
	return nil
}

// Prune drops every fill of the given signal.
func (o OpenFills) Prune(signalID string) {
	for id, sig := range o {
		if sig == signalID {
			delete(o, id)
		}
	}
}

func jsonValue[M ~map[string]V, V any](m M) (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src interface{}, dst interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// AccountState is the per-account risk state. Only the evaluator mutates it.
type AccountState struct {
	AccountID        AccountID       `gorm:"primaryKey;size:64" json:"account_id"`
	Equity           decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"equity"`
	EquityAtDayStart decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"equity_at_day_start"`
	DailyPnL         decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"daily_pnl"`
	TradingDay       string          `gorm:"size:10" json:"trading_day"` // YYYY-MM-DD in the trading-day zone
	OpenExposure     Exposure        `gorm:"type:text" json:"open_exposure"`
	OpenFills        OpenFills       `gorm:"type:text" json:"-"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName keeps the account table name stable.
func (AccountState) TableName() string {
	return "account_states"
}

// Clone returns a deep copy safe to hand to readers.
func (a AccountState) Clone() AccountState {
	out := a
	out.OpenExposure = make(Exposure, len(a.OpenExposure))
	for k, v := range a.OpenExposure {
		out.OpenExposure[k] = v
	}
	out.OpenFills = make(OpenFills, len(a.OpenFills))
	for k, v := range a.OpenFills {
		out.OpenFills[k] = v
	}
	return out
}

// NewAccountState opens an account with the given equity on the given trading day.
func NewAccountState(id AccountID, equity decimal.Decimal, tradingDay string) AccountState {
	return AccountState{
		AccountID:        id,
		Equity:           equity,
		EquityAtDayStart: equity,
		DailyPnL:         decimal.Zero,
		TradingDay:       tradingDay,
		OpenExposure:     Exposure{},
		OpenFills:        OpenFills{},
	}
}
