package intake

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"signalgate/src/model"
)

var validate = validator.New()

// Request is a raw signal as posted over HTTP or published on Kafka.
// Either AnalystID or SourceRef identifies the analyst.
type Request struct {
	ID        string          `json:"id" validate:"max=64"`
	AccountID string          `json:"account_id" validate:"max=64"`
	AnalystID string          `json:"analyst_id" validate:"required_without=SourceRef,max=120"`
	SourceRef string          `json:"source_ref" validate:"max=120"`
	Symbol    string          `json:"symbol" validate:"required,max=50"`
	Side      string          `json:"side" validate:"required"`
	OrderType string          `json:"order_type" default:"market" validate:"oneof=market limit"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Market    *Quote          `json:"market,omitempty"`
}

// Quote is the market context the sender observed, if any.
type Quote struct {
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Reference decimal.Decimal `json:"reference"`
	QuotedAt  time.Time       `json:"quoted_at"`
}

// Prepare trims the free-text fields, applies defaults and validates the
// request. Errors wrap model.ErrMalformedSignal.
func (r *Request) Prepare() error {
	r.ID = strings.TrimSpace(r.ID)
	r.AccountID = strings.TrimSpace(r.AccountID)
	r.AnalystID = strings.TrimSpace(r.AnalystID)
	r.SourceRef = strings.TrimSpace(r.SourceRef)
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	r.Side = strings.ToLower(strings.TrimSpace(r.Side))
	r.OrderType = strings.ToLower(strings.TrimSpace(r.OrderType))

	if err := defaults.Set(r); err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedSignal, err)
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %s", model.ErrMalformedSignal, describe(err))
	}
	return nil
}

// describe turns validator errors into "field rule" pairs.
func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
