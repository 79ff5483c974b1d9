package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"signalgate/src/model"
)

type LossMode string

const (
	LossModeDollar  LossMode = "dollar"
	LossModePercent LossMode = "percent"
)

type SpreadAction string

const (
	SpreadActionBid    SpreadAction = "bid"
	SpreadActionMid    SpreadAction = "mid"
	SpreadActionAsk    SpreadAction = "ask"
	SpreadActionReject SpreadAction = "reject"
)

// ----- rule variants -----

type DailyLossLimit struct {
	Enabled bool            `json:"enabled"`
	Mode    LossMode        `json:"mode"`
	Amount  decimal.Decimal `json:"amount"`  // dollars, used in dollar mode
	Percent decimal.Decimal `json:"percent"` // of day-start equity, used in percent mode
}

type EquityFloor struct {
	Enabled    bool            `json:"enabled"`
	MinDollar  decimal.Decimal `json:"min_dollar"`  // zero = unset
	MinPercent decimal.Decimal `json:"min_percent"` // of day-start equity, zero = unset
}

type PriceConfirmation struct {
	Enabled            bool            `json:"enabled"`
	MaxSlippagePercent decimal.Decimal `json:"max_slippage_percent"`
}

type SpreadProtection struct {
	Enabled          bool            `json:"enabled"`
	MaxSpreadPercent decimal.Decimal `json:"max_spread_percent"`
	Action           SpreadAction    `json:"action"`
}

// RuleSet is the complete, versioned risk configuration. It is replaced as a
// whole, never edited in place.
type RuleSet struct {
	Version           uint64            `json:"version"`
	DailyLossLimit    DailyLossLimit    `json:"daily_loss_limit"`
	EquityFloor       EquityFloor       `json:"equity_floor"`
	MaxQuoteAge       time.Duration     `json:"max_quote_age"` // zero disables the freshness check
	PriceConfirmation PriceConfirmation `json:"price_confirmation"`
	SpreadProtection  SpreadProtection  `json:"spread_protection"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Decision is the outcome of running the rule chain over one signal.
type Decision struct {
	Approved       bool
	RuleID         model.RuleID
	Reason         string
	OrderType      model.OrderType
	LimitPrice     decimal.Decimal
	PriceRewritten bool
}

type rule struct {
	id    model.RuleID
	check func(rs *RuleSet, sig model.Signal, acct model.AccountState, mkt model.MarketSnapshot, d *Decision) (string, bool)
}

// precedence is fixed; the first violated rule decides the verdict.
var precedence = []rule{
	{model.RuleDailyLossLimit, checkDailyLoss},
	{model.RuleEquityFloor, checkEquityFloor},
	{model.RuleStaleMarketSnapshot, checkQuoteAge},
	{model.RulePriceConfirmation, checkPriceConfirmation},
	{model.RuleSpreadProtection, checkSpread},
}

// Precedence returns the rule ids in evaluation order.
func Precedence() []model.RuleID {
	out := make([]model.RuleID, len(precedence))
	for i, r := range precedence {
		out[i] = r.id
	}
	return out
}

// Evaluate runs the rule chain. It reads nothing but its arguments, so the
// same inputs always produce the same decision.
func (rs RuleSet) Evaluate(sig model.Signal, acct model.AccountState, mkt model.MarketSnapshot) Decision {
	d := Decision{
		Approved:  true,
		OrderType: sig.OrderType,
	}
	if sig.OrderType == model.OrderTypeLimit {
		d.LimitPrice = sig.Price
	}

	for _, r := range precedence {
		if reason, violated := r.check(&rs, sig, acct, mkt, &d); violated {
			return Decision{
				Approved:  false,
				RuleID:    r.id,
				Reason:    reason,
				OrderType: sig.OrderType,
			}
		}
	}
	return d
}

// ----- checks -----

// DailyLossThreshold is the positive loss amount at which signals stop.
func (rs RuleSet) DailyLossThreshold(acct model.AccountState) decimal.Decimal {
	if rs.DailyLossLimit.Mode == LossModePercent {
		return rs.DailyLossLimit.Percent.Div(hundred).Mul(acct.EquityAtDayStart)
	}
	return rs.DailyLossLimit.Amount
}

func checkDailyLoss(rs *RuleSet, _ model.Signal, acct model.AccountState, _ model.MarketSnapshot, _ *Decision) (string, bool) {
	cfg := rs.DailyLossLimit
	if !cfg.Enabled {
		return "", false
	}
	threshold := rs.DailyLossThreshold(acct)
	if acct.DailyPnL.GreaterThan(threshold.Neg()) {
		return "", false
	}
	reason := fmt.Sprintf("daily loss %s exceeds %s limit", usd(acct.DailyPnL), usd(threshold.Neg()))
	if cfg.Mode == LossModePercent {
		reason += fmt.Sprintf(" (%s%% of day-start equity)", cfg.Percent.String())
	}
	return reason, true
}

func checkEquityFloor(rs *RuleSet, _ model.Signal, acct model.AccountState, _ model.MarketSnapshot, _ *Decision) (string, bool) {
	cfg := rs.EquityFloor
	if !cfg.Enabled {
		return "", false
	}
	if cfg.MinDollar.IsPositive() && acct.Equity.LessThan(cfg.MinDollar) {
		return fmt.Sprintf("equity %s below %s floor", usd(acct.Equity), usd(cfg.MinDollar)), true
	}
	if cfg.MinPercent.IsPositive() {
		floor := cfg.MinPercent.Div(hundred).Mul(acct.EquityAtDayStart)
		if acct.Equity.LessThan(floor) {
			return fmt.Sprintf("equity %s below %s floor (%s%% of day-start equity %s)",
				usd(acct.Equity), usd(floor), cfg.MinPercent.String(), usd(acct.EquityAtDayStart)), true
		}
	}
	return "", false
}

func checkQuoteAge(rs *RuleSet, sig model.Signal, _ model.AccountState, mkt model.MarketSnapshot, _ *Decision) (string, bool) {
	if rs.MaxQuoteAge <= 0 {
		return "", false
	}
	if mkt.QuotedAt.IsZero() {
		return "market snapshot has no quote time", true
	}
	age := sig.ReceivedAt.Sub(mkt.QuotedAt)
	if age <= rs.MaxQuoteAge {
		return "", false
	}
	return fmt.Sprintf("market snapshot %s old exceeds %s freshness bound",
		age.Truncate(time.Millisecond), rs.MaxQuoteAge), true
}

func checkPriceConfirmation(rs *RuleSet, sig model.Signal, _ model.AccountState, mkt model.MarketSnapshot, _ *Decision) (string, bool) {
	cfg := rs.PriceConfirmation
	if !cfg.Enabled || sig.OrderType != model.OrderTypeLimit {
		return "", false
	}
	ref := mkt.ReferencePrice()
	if !ref.IsPositive() {
		return fmt.Sprintf("no reference price to confirm %s", sig.Price.String()), true
	}
	slippage := sig.Price.Sub(ref).Abs().Div(ref).Mul(hundred)
	if slippage.LessThanOrEqual(cfg.MaxSlippagePercent) {
		return "", false
	}
	return fmt.Sprintf("price %s deviates %s%% from reference %s, max %s%%",
		sig.Price.String(), slippage.StringFixed(2), ref.String(), cfg.MaxSlippagePercent.String()), true
}

func checkSpread(rs *RuleSet, _ model.Signal, _ model.AccountState, mkt model.MarketSnapshot, d *Decision) (string, bool) {
	cfg := rs.SpreadProtection
	if !cfg.Enabled {
		return "", false
	}
	spread, ok := mkt.SpreadPercent()
	if !ok {
		return "no bid/ask quote to measure spread", true
	}
	if spread.LessThanOrEqual(cfg.MaxSpreadPercent) {
		return "", false
	}

	var price decimal.Decimal
	switch cfg.Action {
	case SpreadActionBid:
		price = mkt.Bid
	case SpreadActionMid:
		price = mkt.Mid()
	case SpreadActionAsk:
		price = mkt.Ask
	default:
		return fmt.Sprintf("spread %s%% exceeds %s%% max", spread.StringFixed(2), cfg.MaxSpreadPercent.String()), true
	}
	d.OrderType = model.OrderTypeLimit
	d.LimitPrice = price
	d.PriceRewritten = true
	return "", false
}

// ----- formatting -----

var hundred = decimal.NewFromInt(100)

// usd renders -520 as "-$520" and 12.5 as "$12.50".
func usd(v decimal.Decimal) string {
	sign := ""
	if v.IsNegative() {
		sign = "-"
	}
	abs := v.Abs()
	if abs.Equal(abs.Truncate(0)) {
		return sign + "$" + abs.StringFixed(0)
	}
	return sign + "$" + abs.StringFixed(2)
}
