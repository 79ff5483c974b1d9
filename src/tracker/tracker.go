package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"signalgate/src/metrics"
	"signalgate/src/model"
)

// Analysts is the registry surface the tracker writes through.
type Analysts interface {
	Update(ctx context.Context, id model.AnalystID, fn func(a *model.Analyst) (*model.AnalystEvent, error)) (model.Analyst, error)
}

// SettlementStore keeps settlement rows so idempotency survives restarts.
type SettlementStore interface {
	Create(ctx context.Context, s *model.Settlement) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Tracker owns the trust metrics of every analyst. It is the only writer of
// counters, win rate and expected value.
type Tracker struct {
	logger  *logrus.Entry
	cfg     Config
	reg     Analysts
	store   SettlementStore
	metrics *metrics.Recorder
	now     func() time.Time

	mu      sync.Mutex
	seen    map[string]struct{}
	pending map[string]struct{}
}

func New(logger *logrus.Entry, cfg Config, reg Analysts, store SettlementStore, rec *metrics.Recorder) (*Tracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{
		logger:  logger.WithField("component", "tracker"),
		cfg:     cfg,
		reg:     reg,
		store:   store,
		metrics: rec,
		now:     time.Now,
		seen:    map[string]struct{}{},
		pending: map[string]struct{}{},
	}, nil
}

// Load primes the idempotency set from stored settlements.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	keys, err := t.store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("load settlement keys: %w", err)
	}
	t.mu.Lock()
	for _, k := range keys {
		t.seen[k] = struct{}{}
	}
	t.mu.Unlock()
	t.logger.WithField("count", len(keys)).Info("settlement keys loaded")
	return nil
}

// RecordSettlement folds one realized outcome into the analyst's metrics.
// A key that was already recorded returns ErrDuplicateSettlement and changes
// nothing.
func (t *Tracker) RecordSettlement(ctx context.Context, s model.Settlement) (model.Analyst, error) {
	if err := t.normalize(&s); err != nil {
		return model.Analyst{}, err
	}

	if err := t.reserve(s.Key); err != nil {
		return model.Analyst{}, err
	}

	// The row is written under the analyst lock before the counters move, so a
	// key is never counted without being durable.
	var (
		disabled bool
		stored   bool
	)
	a, err := t.reg.Update(ctx, s.AnalystID, func(a *model.Analyst) (*model.AnalystEvent, error) {
		disabled = false
		if t.store != nil && !stored {
			if err := t.store.Create(ctx, &s); err != nil {
				return nil, fmt.Errorf("store settlement %s: %w", s.Key, err)
			}
			stored = true
		}
		return t.apply(a, s, &disabled), nil
	})
	if err != nil {
		if stored {
			t.unstore(ctx, s)
		}
		t.logger.WithError(err).WithFields(logrus.Fields{
			"analyst_id": s.AnalystID,
			"key":        s.Key,
		}).Error("failed to record settlement")
		t.release(s.Key, false)
		return a, err
	}
	t.release(s.Key, true)

	t.metrics.RecordSettlement(string(s.Outcome))
	if disabled {
		t.metrics.RecordAutoDisabled()
	}

	t.logger.WithFields(logrus.Fields{
		"analyst_id": a.ID,
		"outcome":    s.Outcome,
		"pnl":        s.PnL.String(),
		"trades":     a.Trades,
		"win_rate":   a.WinRate,
		"ev":         a.ExpectedValue,
		"streak":     a.BelowFloorStreak,
	}).Debug("settlement recorded")
	return a, nil
}

// unstore drops a row whose analyst update did not commit.
func (t *Tracker) unstore(ctx context.Context, s model.Settlement) {
	if err := t.store.Delete(ctx, s.Key); err != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"analyst_id": s.AnalystID,
			"key":        s.Key,
		}).Error("failed to roll back settlement row")
	}
}

func (t *Tracker) normalize(s *model.Settlement) error {
	s.Key = strings.TrimSpace(s.Key)
	if s.Key == "" {
		return fmt.Errorf("%w: missing idempotency key", model.ErrMalformedSettlement)
	}
	if s.AnalystID == "" {
		return fmt.Errorf("%w: missing analyst", model.ErrMalformedSettlement)
	}
	switch s.Outcome {
	case "":
		s.Outcome = model.OutcomeFromPnL(s.PnL)
	case model.OutcomeWin, model.OutcomeLoss, model.OutcomeNeutral:
	default:
		return fmt.Errorf("%w: unsupported outcome %q", model.ErrMalformedSettlement, s.Outcome)
	}
	if s.SettledAt.IsZero() {
		s.SettledAt = t.now().UTC()
	}
	return nil
}

func (t *Tracker) reserve(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[key]; ok {
		return fmt.Errorf("%w: %s", model.ErrDuplicateSettlement, key)
	}
	if _, ok := t.pending[key]; ok {
		return fmt.Errorf("%w: %s in progress", model.ErrDuplicateSettlement, key)
	}
	t.pending[key] = struct{}{}
	return nil
}

func (t *Tracker) release(key string, committed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, key)
	if committed {
		t.seen[key] = struct{}{}
	}
}

// apply runs under the analyst lock.
func (t *Tracker) apply(a *model.Analyst, s model.Settlement, disabled *bool) *model.AnalystEvent {
	pnl := s.PnL.InexactFloat64()

	a.Trades++
	switch s.Outcome {
	case model.OutcomeWin:
		a.Wins++
	case model.OutcomeLoss:
		a.Losses++
	}
	a.WinRate = float64(a.Wins) / float64(a.Trades)
	a.ExpectedValue = nextEV(a.ExpectedValue, pnl, a.Trades, t.cfg.Smoothing)

	if a.ExpectedValue < t.cfg.EVFloor {
		a.BelowFloorStreak++
	} else {
		a.BelowFloorStreak = 0
	}

	if !t.cfg.AutoDisable || !a.Enabled || a.BelowFloorStreak < t.cfg.FloorStreak {
		return nil
	}
	a.Enabled = false
	*disabled = true
	return &model.AnalystEvent{
		Kind: model.AnalystEventAutoDisabled,
		Reason: fmt.Sprintf("expected value %.2f below floor %.2f for %d consecutive settlements",
			a.ExpectedValue, t.cfg.EVFloor, a.BelowFloorStreak),
		ExpectedValue: a.ExpectedValue,
		Actor:         model.ActorTracker,
	}
}

// nextEV folds pnl into the running estimate. alpha=0 keeps the cumulative
// average; otherwise it is an EWMA seeded by the first observation.
func nextEV(prev, pnl float64, trades int64, alpha float64) float64 {
	if trades <= 1 {
		return pnl
	}
	if alpha == 0 {
		return prev + (pnl-prev)/float64(trades)
	}
	return alpha*pnl + (1-alpha)*prev
}
