package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signalgate/src/externalmodel"
	"signalgate/src/model"
)

// Resolver maps external handles to registered analysts.
type Resolver interface {
	Get(id model.AnalystID) (model.Analyst, bool)
	ResolveSource(raw string) (model.AnalystID, bool)
}

// QuoteSource supplies a market snapshot when the sender did not include one.
type QuoteSource interface {
	Snapshot(ctx context.Context, symbol string) (model.MarketSnapshot, error)
}

// Normalizer turns raw requests and bot rows into Signals. It never drops a
// signal: an unparseable field is carried through so the evaluator records
// the rejection with the original value.
type Normalizer struct {
	logger         *logrus.Entry
	resolver       Resolver
	quotes         QuoteSource
	defaultAccount model.AccountID
	now            func() time.Time
	newID          func() string
}

func NewNormalizer(logger *logrus.Entry, resolver Resolver, quotes QuoteSource, defaultAccount model.AccountID) *Normalizer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Normalizer{
		logger:         logger.WithField("component", "intake"),
		resolver:       resolver,
		quotes:         quotes,
		defaultAccount: defaultAccount,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// FromRequest normalizes an HTTP or Kafka payload. When Prepare fails the
// returned Signal still carries every field that could be read, and the
// error wraps model.ErrMalformedSignal.
func (n *Normalizer) FromRequest(ctx context.Context, req Request) (model.Signal, error) {
	prepErr := req.Prepare()

	sig := model.Signal{
		ID:         req.ID,
		AccountID:  model.AccountID(req.AccountID),
		AnalystID:  n.resolve(req.AnalystID, req.SourceRef),
		Symbol:     req.Symbol,
		Side:       parseSide(req.Side),
		OrderType:  model.OrderType(req.OrderType),
		Size:       req.Size,
		Price:      req.Price,
		Timestamp:  req.Timestamp,
		ReceivedAt: n.now().UTC(),
	}
	if req.Market != nil {
		sig.Market = model.MarketSnapshot{
			Bid:       req.Market.Bid,
			Ask:       req.Market.Ask,
			Reference: req.Market.Reference,
			QuotedAt:  req.Market.QuotedAt,
		}
	}
	n.fill(ctx, &sig)
	return sig, prepErr
}

// FromRow normalizes a raw row captured by the chat bot.
func (n *Normalizer) FromRow(ctx context.Context, row externalmodel.AnalystSignal) model.Signal {
	received := n.now().UTC()
	if row.ReceivedAt != nil {
		received = row.ReceivedAt.UTC()
	}
	sig := model.Signal{
		ID:         fmt.Sprintf("raw-%d", row.ID),
		AccountID:  model.AccountID(strings.TrimSpace(row.AccountID)),
		AnalystID:  n.resolve(row.AnalystID, row.SourceRef),
		Symbol:     strings.ToUpper(strings.TrimSpace(row.Symbol)),
		Side:       parseSide(row.Action),
		OrderType:  model.OrderType(strings.ToLower(strings.TrimSpace(row.OrderType))),
		Size:       decimal.NewFromFloat(row.Qty),
		Price:      optional(row.Price),
		ReceivedAt: received,
	}
	if sig.OrderType == "" {
		sig.OrderType = model.OrderTypeMarket
	}
	if row.TimestampDT != nil {
		sig.Timestamp = row.TimestampDT.UTC()
	}
	if row.Bid != nil || row.Ask != nil {
		sig.Market = model.MarketSnapshot{
			Bid:       optional(row.Bid),
			Ask:       optional(row.Ask),
			Reference: optional(row.Reference),
		}
		if row.QuotedAt != nil {
			sig.Market.QuotedAt = row.QuotedAt.UTC()
		}
	}
	n.fill(ctx, &sig)
	return sig
}

// fill supplies the id, account, timestamp and quotes the sender left out.
func (n *Normalizer) fill(ctx context.Context, sig *model.Signal) {
	if sig.ID == "" {
		sig.ID = n.newID()
	}
	if sig.AccountID == "" {
		sig.AccountID = n.defaultAccount
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = sig.ReceivedAt
	}
	if sig.Market.QuotedAt.IsZero() && n.quotes != nil && sig.Symbol != "" {
		snap, err := n.quotes.Snapshot(ctx, sig.Symbol)
		if err != nil {
			// Without quotes the staleness and spread rules reject the signal.
			n.logger.WithError(err).WithField("symbol", sig.Symbol).Warn("no market snapshot for signal")
			return
		}
		sig.Market = snap
	}
}

// resolve prefers an explicit analyst id that is registered, then the
// source handle. An unresolved handle is kept so the rejection shows it.
func (n *Normalizer) resolve(analystID, sourceRef string) model.AnalystID {
	id := model.AnalystID(strings.TrimSpace(analystID))
	if id != "" {
		if _, ok := n.resolver.Get(id); ok {
			return id
		}
	}
	if sourceRef != "" {
		if resolved, ok := n.resolver.ResolveSource(sourceRef); ok {
			return resolved
		}
		if id == "" {
			return model.AnalystID(model.NormalizeSourceRef(sourceRef))
		}
	}
	return id
}

func parseSide(raw string) model.Side {
	side, err := model.ParseSide(raw)
	if err != nil {
		return model.Side(strings.ToLower(strings.TrimSpace(raw)))
	}
	return side
}

func optional(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}
