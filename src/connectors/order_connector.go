// ORDER CONNECTORS: HAND APPROVED ORDERS TO THE EXECUTION SIDE
package connectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"signalgate/src/model"
)

const (
	ModeDryRun  = "dryrun"
	ModeWebhook = "webhook"
)

// -----------------------------
// WIRE TYPES
// -----------------------------

// OrderRequest is the body posted for every approved order.
type OrderRequest struct {
	ClientOrderID  string          `json:"client_order_id"`
	SignalID       string          `json:"signal_id"`
	AccountID      string          `json:"account_id"`
	AnalystID      string          `json:"analyst_id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	OrderType      string          `json:"order_type"`
	Size           decimal.Decimal `json:"size"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
	PriceRewritten bool            `json:"price_rewritten"`
	RuleSetVersion uint64          `json:"rule_set_version"`
	ApprovedAt     time.Time       `json:"approved_at"`
}

// Ack is what the execution side answers. Both fields are optional.
type Ack struct {
	ExternalID string `json:"order_id"`
	Status     string `json:"status"`
}

// OrderSink delivers approved orders.
type OrderSink interface {
	Name() string
	Send(ctx context.Context, req OrderRequest) (Ack, error)
}

// NewOrderSink builds the sink selected by cfg.Mode.
func NewOrderSink(cfg Config, signingSecret string) (OrderSink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case ModeDryRun, "":
		return NewDryRunSink(), nil
	case ModeWebhook:
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("EXECUTION_WEBHOOK_URL is required in %s mode", ModeWebhook)
		}
		return NewWebhookSink(cfg, signingSecret), nil
	}
	return nil, fmt.Errorf("unsupported execution mode %q", cfg.Mode)
}

// -----------------------------
// DRY RUN
// -----------------------------

type DryRunSink struct{}

func NewDryRunSink() *DryRunSink { return &DryRunSink{} }

func (*DryRunSink) Name() string { return ModeDryRun }

func (*DryRunSink) Send(_ context.Context, req OrderRequest) (Ack, error) {
	logger.WithFields(map[string]interface{}{
		"client_order_id": req.ClientOrderID,
		"signal_id":       req.SignalID,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"size":            req.Size.String(),
		"limit_price":     req.LimitPrice.String(),
	}).Info("dry run: order not sent")

	return Ack{ExternalID: "dry-" + req.ClientOrderID, Status: model.DispatchStatusDryRun}, nil
}

// -----------------------------
// RETRY POLICY
// -----------------------------

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}
