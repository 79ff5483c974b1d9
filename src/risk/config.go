package risk

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config mirrors the dashboard's Risk Controls defaults.
type Config struct {
	DailyLossEnabled bool    `envconfig:"RISK_DAILY_LOSS_ENABLED" default:"true"`
	DailyLossMode    string  `envconfig:"RISK_DAILY_LOSS_MODE" default:"dollar"` // dollar | percent
	DailyLossAmount  float64 `envconfig:"RISK_DAILY_LOSS_AMOUNT" default:"500"`
	DailyLossPercent float64 `envconfig:"RISK_DAILY_LOSS_PERCENT" default:"5"`

	EquityEnabled    bool    `envconfig:"RISK_EQUITY_ENABLED" default:"true"`
	EquityMinDollar  float64 `envconfig:"RISK_EQUITY_MIN_DOLLAR" default:"10000"`
	EquityMinPercent float64 `envconfig:"RISK_EQUITY_MIN_PERCENT" default:"50"`

	PriceEnabled     bool    `envconfig:"RISK_PRICE_ENABLED" default:"true"`
	PriceMaxSlippage float64 `envconfig:"RISK_PRICE_MAX_SLIPPAGE" default:"2"`

	SpreadEnabled bool    `envconfig:"RISK_SPREAD_ENABLED" default:"true"`
	SpreadMax     float64 `envconfig:"RISK_SPREAD_MAX" default:"5"`
	SpreadAction  string  `envconfig:"RISK_SPREAD_ACTION" default:"mid"` // bid | mid | ask | reject

	MaxQuoteAge time.Duration `envconfig:"RISK_MAX_QUOTE_AGE" default:"30s"`

	// RulesFile, when set, replaces the values above with a YAML document.
	RulesFile string `envconfig:"RISK_RULES_FILE"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// InitialRuleSet builds the startup rule set from the file or the environment.
func (c Config) InitialRuleSet() (RuleSet, error) {
	if c.RulesFile != "" {
		return LoadFile(c.RulesFile)
	}
	rs := RuleSet{
		DailyLossLimit: DailyLossLimit{
			Enabled: c.DailyLossEnabled,
			Mode:    LossMode(c.DailyLossMode),
			Amount:  decimal.NewFromFloat(c.DailyLossAmount),
			Percent: decimal.NewFromFloat(c.DailyLossPercent),
		},
		EquityFloor: EquityFloor{
			Enabled:    c.EquityEnabled,
			MinDollar:  decimal.NewFromFloat(c.EquityMinDollar),
			MinPercent: decimal.NewFromFloat(c.EquityMinPercent),
		},
		MaxQuoteAge: c.MaxQuoteAge,
		PriceConfirmation: PriceConfirmation{
			Enabled:            c.PriceEnabled,
			MaxSlippagePercent: decimal.NewFromFloat(c.PriceMaxSlippage),
		},
		SpreadProtection: SpreadProtection{
			Enabled:          c.SpreadEnabled,
			MaxSpreadPercent: decimal.NewFromFloat(c.SpreadMax),
			Action:           SpreadAction(c.SpreadAction),
		},
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// DefaultRuleSet is the dashboard default configuration.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		DailyLossLimit: DailyLossLimit{
			Enabled: true,
			Mode:    LossModeDollar,
			Amount:  decimal.NewFromInt(500),
			Percent: decimal.NewFromInt(5),
		},
		EquityFloor: EquityFloor{
			Enabled:    true,
			MinDollar:  decimal.NewFromInt(10000),
			MinPercent: decimal.NewFromInt(50),
		},
		MaxQuoteAge: 30 * time.Second,
		PriceConfirmation: PriceConfirmation{
			Enabled:            true,
			MaxSlippagePercent: decimal.NewFromInt(2),
		},
		SpreadProtection: SpreadProtection{
			Enabled:          true,
			MaxSpreadPercent: decimal.NewFromInt(5),
			Action:           SpreadActionMid,
		},
	}
}

// Validate rejects configurations that would make a check ambiguous.
func (rs RuleSet) Validate() error {
	if dl := rs.DailyLossLimit; dl.Enabled {
		switch dl.Mode {
		case LossModeDollar:
			if !dl.Amount.IsPositive() {
				return fmt.Errorf("daily loss limit: amount must be positive")
			}
		case LossModePercent:
			if !dl.Percent.IsPositive() || dl.Percent.GreaterThan(hundred) {
				return fmt.Errorf("daily loss limit: percent must be in (0, 100]")
			}
		default:
			return fmt.Errorf("daily loss limit: unsupported mode %q", dl.Mode)
		}
	}
	if ef := rs.EquityFloor; ef.Enabled {
		if ef.MinDollar.IsNegative() || ef.MinPercent.IsNegative() || ef.MinPercent.GreaterThan(hundred) {
			return fmt.Errorf("equity floor: floors must be non-negative and percent at most 100")
		}
		if ef.MinDollar.IsZero() && ef.MinPercent.IsZero() {
			return fmt.Errorf("equity floor: at least one floor must be set")
		}
	}
	if rs.MaxQuoteAge < 0 {
		return fmt.Errorf("max quote age must not be negative")
	}
	if pc := rs.PriceConfirmation; pc.Enabled && !pc.MaxSlippagePercent.IsPositive() {
		return fmt.Errorf("price confirmation: max slippage must be positive")
	}
	if sp := rs.SpreadProtection; sp.Enabled {
		if !sp.MaxSpreadPercent.IsPositive() {
			return fmt.Errorf("spread protection: max spread must be positive")
		}
		switch sp.Action {
		case SpreadActionBid, SpreadActionMid, SpreadActionAsk, SpreadActionReject:
		default:
			return fmt.Errorf("spread protection: unsupported action %q", sp.Action)
		}
	}
	return nil
}
