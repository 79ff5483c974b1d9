package risk

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Document is the operator-facing form of a rule set, used for the rules file
// and the configuration endpoint. Pointer fields distinguish "unset" from an
// explicit zero or false.
type Document struct {
	// BaseVersion is the version the operator edited. Zero skips the check.
	BaseVersion uint64 `yaml:"base_version" json:"base_version"`

	DailyLossLimit struct {
		Enabled *bool   `yaml:"enabled" json:"enabled" default:"true"`
		Mode    string  `yaml:"mode" json:"mode" default:"dollar" validate:"oneof=dollar percent"`
		Amount  float64 `yaml:"amount" json:"amount" default:"500" validate:"gt=0"`
		Percent float64 `yaml:"percent" json:"percent" default:"5" validate:"gt=0,lte=100"`
	} `yaml:"daily_loss_limit" json:"daily_loss_limit"`

	EquityFloor struct {
		Enabled    *bool    `yaml:"enabled" json:"enabled" default:"true"`
		MinDollar  *float64 `yaml:"min_dollar" json:"min_dollar" default:"10000" validate:"gte=0"`
		MinPercent *float64 `yaml:"min_percent" json:"min_percent" default:"50" validate:"gte=0,lte=100"`
	} `yaml:"equity_floor" json:"equity_floor"`

	MaxQuoteAge *string `yaml:"max_quote_age" json:"max_quote_age" default:"30s"`

	PriceConfirmation struct {
		Enabled            *bool   `yaml:"enabled" json:"enabled" default:"true"`
		MaxSlippagePercent float64 `yaml:"max_slippage_percent" json:"max_slippage_percent" default:"2" validate:"gt=0"`
	} `yaml:"price_confirmation" json:"price_confirmation"`

	SpreadProtection struct {
		Enabled          *bool   `yaml:"enabled" json:"enabled" default:"true"`
		MaxSpreadPercent float64 `yaml:"max_spread_percent" json:"max_spread_percent" default:"5" validate:"gt=0"`
		Action           string  `yaml:"action" json:"action" default:"mid" validate:"oneof=bid mid ask reject"`
	} `yaml:"spread_protection" json:"spread_protection"`
}

// View is a rule set as the configuration endpoint shows it. The body can be
// edited and sent back unchanged; BaseVersion is the version it was read at.
type View struct {
	Document
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewView(rs RuleSet) View {
	return View{Document: NewDocument(rs), Version: rs.Version, UpdatedAt: rs.UpdatedAt}
}

// NewDocument renders a rule set in document form with BaseVersion set to
// its version.
func NewDocument(rs RuleSet) Document {
	var d Document
	d.BaseVersion = rs.Version

	d.DailyLossLimit.Enabled = boolPtr(rs.DailyLossLimit.Enabled)
	d.DailyLossLimit.Mode = string(rs.DailyLossLimit.Mode)
	d.DailyLossLimit.Amount = rs.DailyLossLimit.Amount.InexactFloat64()
	d.DailyLossLimit.Percent = rs.DailyLossLimit.Percent.InexactFloat64()

	d.EquityFloor.Enabled = boolPtr(rs.EquityFloor.Enabled)
	d.EquityFloor.MinDollar = floatPtr(rs.EquityFloor.MinDollar.InexactFloat64())
	d.EquityFloor.MinPercent = floatPtr(rs.EquityFloor.MinPercent.InexactFloat64())

	age := rs.MaxQuoteAge.String()
	d.MaxQuoteAge = &age

	d.PriceConfirmation.Enabled = boolPtr(rs.PriceConfirmation.Enabled)
	d.PriceConfirmation.MaxSlippagePercent = rs.PriceConfirmation.MaxSlippagePercent.InexactFloat64()

	d.SpreadProtection.Enabled = boolPtr(rs.SpreadProtection.Enabled)
	d.SpreadProtection.MaxSpreadPercent = rs.SpreadProtection.MaxSpreadPercent.InexactFloat64()
	d.SpreadProtection.Action = string(rs.SpreadProtection.Action)
	return d
}

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }

// Prepare fills defaults and validates the document.
func (d *Document) Prepare() error {
	if err := defaults.Set(d); err != nil {
		return fmt.Errorf("apply rule defaults: %w", err)
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("validate rules: %w", err)
	}
	return nil
}

// RuleSet converts a prepared document into a validated rule set.
func (d *Document) RuleSet() (RuleSet, error) {
	if err := d.Prepare(); err != nil {
		return RuleSet{}, err
	}
	maxAge, err := time.ParseDuration(*d.MaxQuoteAge)
	if err != nil {
		return RuleSet{}, fmt.Errorf("parse max_quote_age: %w", err)
	}

	rs := RuleSet{
		DailyLossLimit: DailyLossLimit{
			Enabled: *d.DailyLossLimit.Enabled,
			Mode:    LossMode(d.DailyLossLimit.Mode),
			Amount:  decimal.NewFromFloat(d.DailyLossLimit.Amount),
			Percent: decimal.NewFromFloat(d.DailyLossLimit.Percent),
		},
		EquityFloor: EquityFloor{
			Enabled:    *d.EquityFloor.Enabled,
			MinDollar:  decimal.NewFromFloat(*d.EquityFloor.MinDollar),
			MinPercent: decimal.NewFromFloat(*d.EquityFloor.MinPercent),
		},
		MaxQuoteAge: maxAge,
		PriceConfirmation: PriceConfirmation{
			Enabled:            *d.PriceConfirmation.Enabled,
			MaxSlippagePercent: decimal.NewFromFloat(d.PriceConfirmation.MaxSlippagePercent),
		},
		SpreadProtection: SpreadProtection{
			Enabled:          *d.SpreadProtection.Enabled,
			MaxSpreadPercent: decimal.NewFromFloat(d.SpreadProtection.MaxSpreadPercent),
			Action:           SpreadAction(d.SpreadProtection.Action),
		},
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// ParseYAML decodes a rule document.
func ParseYAML(b []byte) (Document, error) {
	var d Document
	if err := yaml.Unmarshal(b, &d); err != nil {
		return Document{}, fmt.Errorf("parse rules: %w", err)
	}
	return d, nil
}

// LoadFile reads a YAML rules file into a rule set.
func LoadFile(path string) (RuleSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules file: %w", err)
	}
	d, err := ParseYAML(b)
	if err != nil {
		return RuleSet{}, err
	}
	return d.RuleSet()
}
