package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"signalgate/src/model"
	"signalgate/src/security"
)

// WebhookSink posts approved orders as JSON to a single URL. Requests are
// throttled, retried on transport errors, 5xx, 408 and 429, and signed when
// a secret is configured.
type WebhookSink struct {
	url     string
	secret  string
	http    *resty.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func NewWebhookSink(cfg Config, signingSecret string) *WebhookSink {
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	maxWait := cfg.RetryMaxWait
	if maxWait < cfg.RetryWait {
		maxWait = cfg.RetryWait
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(maxWait).
		AddRetryCondition(isRetryableResp)

	return &WebhookSink{
		url:     cfg.WebhookURL,
		secret:  signingSecret,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

func (w *WebhookSink) Name() string { return ModeWebhook }

func (w *WebhookSink) Send(ctx context.Context, req OrderRequest) (Ack, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return Ack{}, fmt.Errorf("webhook throttle: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Ack{}, err
	}

	r := w.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	if w.secret != "" {
		ts := w.now().Unix()
		r = r.
			SetHeader(security.HeaderTimestamp, strconv.FormatInt(ts, 10)).
			SetHeader(security.HeaderSignature, security.Sign(w.secret, ts, body))
	}

	resp, err := r.Post(w.url)
	if err != nil {
		return Ack{}, fmt.Errorf("webhook request: %w", err)
	}

	raw := resp.Body()
	if resp.IsError() {
		return Ack{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(raw))
	}

	var ack Ack
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ack); err != nil {
			logger.WithError(err).
				WithField("client_order_id", req.ClientOrderID).
				Warn("webhook ack is not JSON, treating as sent")
		}
	}
	if ack.Status == "" {
		ack.Status = model.DispatchStatusSent
	}
	return ack, nil
}
