package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AccountID string

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts the usual spellings coming from signalling channels.
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long", "bto":
		return SideBuy, nil
	case "sell", "short", "sto", "stc":
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: unsupported side %q", ErrMalformedSignal, raw)
}

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

var hundred = decimal.NewFromInt(100)

// MarketSnapshot is the quote context observed when a signal arrived.
type MarketSnapshot struct {
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Reference decimal.Decimal `json:"reference"`
	QuotedAt  time.Time       `json:"quoted_at"`
}

// HasQuotes reports whether both sides of the book are known.
func (m MarketSnapshot) HasQuotes() bool {
	return m.Bid.IsPositive() && m.Ask.IsPositive() && m.Ask.GreaterThanOrEqual(m.Bid)
}

// Mid returns the mid quote, or zero when the book is incomplete.
func (m MarketSnapshot) Mid() decimal.Decimal {
	if !m.HasQuotes() {
		return decimal.Zero
	}
	return m.Bid.Add(m.Ask).Div(decimal.NewFromInt(2))
}

// ReferencePrice prefers the explicit reference and falls back to the mid.
func (m MarketSnapshot) ReferencePrice() decimal.Decimal {
	if m.Reference.IsPositive() {
		return m.Reference
	}
	return m.Mid()
}

// SpreadPercent is (ask-bid)/mid in percentage points.
func (m MarketSnapshot) SpreadPercent() (decimal.Decimal, bool) {
	mid := m.Mid()
	if !mid.IsPositive() {
		return decimal.Zero, false
	}
	return m.Ask.Sub(m.Bid).Div(mid).Mul(hundred), true
}

// Signal is a normalized trade proposal. It is never modified after intake.
type Signal struct {
	ID         string          `json:"id"`
	AccountID  AccountID       `json:"account_id"`
	AnalystID  AnalystID       `json:"analyst_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	OrderType  OrderType       `json:"order_type"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"` // ignored for market orders
	Timestamp  time.Time       `json:"timestamp"`
	ReceivedAt time.Time       `json:"received_at"`
	Market     MarketSnapshot  `json:"market"`
}

// Validate checks the structural invariants every evaluated signal must hold.
func (s Signal) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformedSignal)
	case s.AccountID == "":
		return fmt.Errorf("%w: missing account", ErrMalformedSignal)
	case s.AnalystID == "":
		return fmt.Errorf("%w: missing analyst", ErrMalformedSignal)
	case strings.TrimSpace(s.Symbol) == "":
		return fmt.Errorf("%w: missing symbol", ErrMalformedSignal)
	case s.Side != SideBuy && s.Side != SideSell:
		return fmt.Errorf("%w: invalid side %q", ErrMalformedSignal, s.Side)
	case !s.Size.IsPositive():
		return fmt.Errorf("%w: size must be positive", ErrMalformedSignal)
	}
	switch s.OrderType {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if !s.Price.IsPositive() {
			return fmt.Errorf("%w: limit order without price", ErrMalformedSignal)
		}
	default:
		return fmt.Errorf("%w: invalid order type %q", ErrMalformedSignal, s.OrderType)
	}
	if s.ReceivedAt.IsZero() {
		return fmt.Errorf("%w: missing receive time", ErrMalformedSignal)
	}
	return nil
}
