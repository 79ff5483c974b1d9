package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signalgate/src/metrics"
	"signalgate/src/model"
)

// ErrNoQuote is returned when the exchange has no usable book for a symbol.
var ErrNoQuote = errors.New("no quote available")

// TickerAPI is the part of goex.API used for quotes.
type TickerAPI interface {
	GetTicker(pair goex.CurrencyPair) (*goex.Ticker, error)
}

// TickerSource builds market snapshots from exchange tickers.
type TickerSource struct {
	api     TickerAPI
	quote   string
	logger  *logrus.Entry
	metrics *metrics.Recorder
	now     func() time.Time
}

func NewTickerSource(api TickerAPI, quoteAsset string, logger *logrus.Entry, rec *metrics.Recorder) *TickerSource {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &TickerSource{
		api:     api,
		quote:   strings.ToUpper(quoteAsset),
		logger:  logger.WithField("component", "quotes"),
		metrics: rec,
		now:     time.Now,
	}
}

// NewSource returns the quote source selected by cfg, or nil when quotes are
// expected to arrive with each signal.
func NewSource(cfg Config, logger *logrus.Entry, rec *metrics.Recorder) (*TickerSource, error) {
	switch strings.ToLower(cfg.QuoteSource) {
	case "", "none":
		return nil, nil
	case "binance":
		api := binance.NewWithConfig(&goex.APIConfig{
			HttpClient: &http.Client{Timeout: cfg.Timeout},
			Endpoint:   binance.GLOBAL_API_BASE_URL,
		})
		return NewTickerSource(api, cfg.QuoteAsset, logger, rec), nil
	}
	return nil, fmt.Errorf("unsupported quote source %q", cfg.QuoteSource)
}

// Snapshot fetches the current best bid/ask for symbol. The ticker's last
// price becomes the reference price.
func (s *TickerSource) Snapshot(ctx context.Context, symbol string) (model.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.MarketSnapshot{}, err
	}
	pair := s.pair(symbol)
	t, err := s.api.GetTicker(pair)
	if err != nil {
		s.metrics.RecordQuoteError(symbol)
		s.logger.WithError(err).WithField("pair", pair.String()).Warn("ticker request failed")
		return model.MarketSnapshot{}, fmt.Errorf("ticker %s: %w", pair.String(), err)
	}
	if t == nil || t.Buy <= 0 || t.Sell <= 0 {
		s.metrics.RecordQuoteError(symbol)
		return model.MarketSnapshot{}, fmt.Errorf("%w: %s", ErrNoQuote, pair.String())
	}

	quotedAt := s.now().UTC()
	if t.Date > 0 {
		quotedAt = time.UnixMilli(int64(t.Date)).UTC()
	}
	return model.MarketSnapshot{
		Bid:       decimal.NewFromFloat(t.Buy),
		Ask:       decimal.NewFromFloat(t.Sell),
		Reference: decimal.NewFromFloat(t.Last),
		QuotedAt:  quotedAt,
	}, nil
}

// pair accepts "BTC_USDT", "BTC/USDT", "BTCUSDT" or a bare base asset.
func (s *TickerSource) pair(symbol string) goex.CurrencyPair {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"_", "/", "-"} {
		if base, quote, ok := strings.Cut(sym, sep); ok {
			return goex.NewCurrencyPair2(base + "_" + quote)
		}
	}
	base := strings.TrimSuffix(sym, s.quote)
	if base == "" {
		base = sym
	}
	return goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: s.quote})
}
