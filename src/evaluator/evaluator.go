package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signalgate/src/metrics"
	"signalgate/src/model"
	"signalgate/src/risk"
	"signalgate/src/utils"
)

// Analysts resolves analyst snapshots.
type Analysts interface {
	Get(id model.AnalystID) (model.Analyst, bool)
}

// Settler records realized outcomes against the originating analyst.
type Settler interface {
	RecordSettlement(ctx context.Context, s model.Settlement) (model.Analyst, error)
}

// Ledger is the rejection audit trail.
type Ledger interface {
	Append(ctx context.Context, rec model.RejectionRecord) (model.RejectionRecord, error)
}

// OrderParams is what the execution side receives for an approved signal.
type OrderParams struct {
	Symbol         string          `json:"symbol"`
	Side           model.Side      `json:"side"`
	Size           decimal.Decimal `json:"size"`
	OrderType      model.OrderType `json:"order_type"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
	PriceRewritten bool            `json:"price_rewritten"`
}

// Verdict is the outcome of one evaluation.
type Verdict struct {
	SignalID       string          `json:"signal_id"`
	AccountID      model.AccountID `json:"account_id"`
	AnalystID      model.AnalystID `json:"analyst_id"`
	Approved       bool            `json:"approved"`
	Order          *OrderParams    `json:"order,omitempty"`
	RuleID         model.RuleID    `json:"rule_id,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	RuleSetVersion uint64          `json:"rule_set_version"`
	EvaluatedAt    time.Time       `json:"evaluated_at"`
	LedgerSeq      uint64          `json:"ledger_seq,omitempty"`
	// LedgerErr is set when the rejection could not be stored durably.
	LedgerErr error `json:"-"`
}

// Evaluator gates signals against the active rule set and owns every
// account's state. Lock order is account, then rules, then analyst.
type Evaluator struct {
	logger   *logrus.Entry
	analysts Analysts
	settler  Settler
	ledger   Ledger
	store    AccountStore
	metrics  *metrics.Recorder
	loc      *time.Location
	rollover int
	now      func() time.Time

	accounts *book

	rulesMu  sync.RWMutex
	rules    risk.RuleSet
	swapping atomic.Bool
}

type Deps struct {
	Analysts Analysts
	Settler  Settler
	Ledger   Ledger
	Store    AccountStore
	Metrics  *metrics.Recorder
}

func New(logger *logrus.Entry, cfg Config, rules risk.RuleSet, deps Deps) (*Evaluator, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("initial rule set: %w", err)
	}
	if deps.Analysts == nil || deps.Settler == nil || deps.Ledger == nil {
		return nil, errors.New("evaluator needs analysts, settler and ledger")
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if rules.Version == 0 {
		rules.Version = 1
	}
	e := &Evaluator{
		logger:   logger.WithField("component", "evaluator"),
		analysts: deps.Analysts,
		settler:  deps.Settler,
		ledger:   deps.Ledger,
		store:    deps.Store,
		metrics:  deps.Metrics,
		loc:      utils.LoadLocation(cfg.TradingDayTZ),
		rollover: cfg.RolloverHour,
		now:      time.Now,
		accounts: newBook(),
		rules:    rules,
	}
	e.metrics.RecordRuleSetVersion(rules.Version)
	return e, nil
}

// TradingDay is the trading-day key for t.
func (e *Evaluator) TradingDay(t time.Time) string {
	return utils.TradingDay(t, e.loc, e.rollover)
}

// DayStart is when the trading day containing t began.
func (e *Evaluator) DayStart(t time.Time) time.Time {
	return utils.DayStart(t, e.loc, e.rollover)
}

// Load restores stored accounts.
func (e *Evaluator) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	list, err := e.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	for _, st := range list {
		e.accounts.open(st)
	}
	e.logger.WithField("count", len(list)).Info("accounts loaded")
	return nil
}

// OpenAccount registers an account with its starting equity. An existing
// account is returned unchanged.
func (e *Evaluator) OpenAccount(ctx context.Context, id model.AccountID, equity decimal.Decimal) (model.AccountState, error) {
	if id == "" {
		return model.AccountState{}, fmt.Errorf("%w: empty account id", model.ErrUnknownAccount)
	}
	if !equity.IsPositive() {
		return model.AccountState{}, fmt.Errorf("account %s: equity must be positive", id)
	}
	acct, created := e.accounts.open(model.NewAccountState(id, equity, e.TradingDay(e.now())))
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if created {
		e.persist(ctx, acct)
		e.logger.WithFields(logrus.Fields{"account_id": id, "equity": equity.String()}).Info("account opened")
	}
	return acct.state.Clone(), nil
}

// Account returns a snapshot of one account.
func (e *Evaluator) Account(id model.AccountID) (model.AccountState, bool) {
	acct := e.accounts.get(id)
	if acct == nil {
		return model.AccountState{}, false
	}
	return acct.snapshot(), true
}

// Accounts returns snapshots of every account ordered by id.
func (e *Evaluator) Accounts() []model.AccountState {
	all := e.accounts.all()
	out := make([]model.AccountState, 0, len(all))
	for _, a := range all {
		out = append(out, a.snapshot())
	}
	return out
}

// Rules returns the active rule set.
func (e *Evaluator) Rules() risk.RuleSet {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	return e.rules
}

// SwapRules replaces the whole rule set. It waits for in-flight evaluations
// to finish, and fails with ErrConfigurationConflict when another swap is
// still pending or baseVersion is non-zero and no longer current.
func (e *Evaluator) SwapRules(next risk.RuleSet, baseVersion uint64) (risk.RuleSet, error) {
	if err := next.Validate(); err != nil {
		return risk.RuleSet{}, err
	}
	if !e.swapping.CompareAndSwap(false, true) {
		return risk.RuleSet{}, fmt.Errorf("%w: another rule swap is in progress", model.ErrConfigurationConflict)
	}
	defer e.swapping.Store(false)

	e.rulesMu.Lock()
	if baseVersion != 0 && baseVersion != e.rules.Version {
		current := e.rules.Version
		e.rulesMu.Unlock()
		return risk.RuleSet{}, fmt.Errorf("%w: edited version %d, current version %d",
			model.ErrConfigurationConflict, baseVersion, current)
	}
	next.Version = e.rules.Version + 1
	next.UpdatedAt = e.now().UTC()
	e.rules = next
	e.rulesMu.Unlock()

	e.metrics.RecordRuleSetVersion(next.Version)
	e.logger.WithField("version", next.Version).Info("rule set swapped")
	return next, nil
}

// Evaluate produces a verdict for one signal. Malformed signals and unknown
// analysts are rejected, recorded and reported as errors; everything else
// returns a nil error, including a rejection whose ledger write failed.
func (e *Evaluator) Evaluate(ctx context.Context, sig model.Signal) (Verdict, error) {
	started := time.Now()
	v := Verdict{
		SignalID:    sig.ID,
		AccountID:   sig.AccountID,
		AnalystID:   sig.AnalystID,
		EvaluatedAt: e.now().UTC(),
	}

	if err := sig.Validate(); err != nil {
		return e.reject(ctx, v, sig, model.RuleMalformedSignal, err.Error(), e.Rules().Version, started), err
	}
	if _, ok := e.analysts.Get(sig.AnalystID); !ok {
		err := fmt.Errorf("%w: %s", model.ErrUnknownAnalyst, sig.AnalystID)
		return e.reject(ctx, v, sig, model.RuleUnknownAnalyst, err.Error(), e.Rules().Version, started), err
	}

	acct := e.accounts.get(sig.AccountID)
	if acct == nil {
		return v, fmt.Errorf("%w: %s", model.ErrUnknownAccount, sig.AccountID)
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	e.rulesMu.RLock()
	rules := e.rules
	analyst, ok := e.analysts.Get(sig.AnalystID)
	var d risk.Decision
	switch {
	case !ok:
		d = risk.Decision{RuleID: model.RuleUnknownAnalyst, Reason: fmt.Sprintf("analyst %s is not registered", sig.AnalystID)}
	case analyst.Removed:
		d = risk.Decision{RuleID: model.RuleAnalystDisabled, Reason: fmt.Sprintf("analyst %s was removed", analyst.ID)}
	case !analyst.Enabled:
		d = risk.Decision{RuleID: model.RuleAnalystDisabled, Reason: fmt.Sprintf("analyst %s is disabled", analyst.ID)}
	default:
		d = rules.Evaluate(sig, acct.state, sig.Market)
	}
	e.rulesMu.RUnlock()

	if !d.Approved {
		return e.reject(ctx, v, sig, d.RuleID, d.Reason, rules.Version, started), nil
	}

	v.Approved = true
	v.RuleSetVersion = rules.Version
	v.Order = &OrderParams{
		Symbol:         sig.Symbol,
		Side:           sig.Side,
		Size:           sig.Size,
		OrderType:      d.OrderType,
		LimitPrice:     d.LimitPrice,
		PriceRewritten: d.PriceRewritten,
	}
	e.metrics.RecordVerdict(true, "", time.Since(started).Seconds())
	e.logger.WithFields(logrus.Fields{
		"signal_id":  sig.ID,
		"account_id": sig.AccountID,
		"analyst_id": sig.AnalystID,
		"symbol":     sig.Symbol,
		"rewritten":  d.PriceRewritten,
	}).Debug("signal approved")
	return v, nil
}

// RejectMalformed records a signal refused at intake before it could be
// evaluated, e.g. a payload that failed validation.
func (e *Evaluator) RejectMalformed(ctx context.Context, sig model.Signal, cause error) Verdict {
	v := Verdict{
		SignalID:    sig.ID,
		AccountID:   sig.AccountID,
		AnalystID:   sig.AnalystID,
		EvaluatedAt: e.now().UTC(),
	}
	return e.reject(ctx, v, sig, model.RuleMalformedSignal, cause.Error(), e.Rules().Version, time.Now())
}

func (e *Evaluator) reject(ctx context.Context, v Verdict, sig model.Signal, rule model.RuleID, reason string, version uint64, started time.Time) Verdict {
	v.Approved = false
	v.RuleID = rule
	v.Reason = reason
	v.RuleSetVersion = version

	snapshot, _ := json.Marshal(sig)
	rec, err := e.ledger.Append(ctx, model.RejectionRecord{
		SignalID:       sig.ID,
		AccountID:      sig.AccountID,
		AnalystID:      sig.AnalystID,
		Symbol:         sig.Symbol,
		Side:           sig.Side,
		OrderType:      sig.OrderType,
		Size:           sig.Size,
		Price:          sig.Price,
		RuleID:         rule,
		Reason:         reason,
		RuleSetVersion: version,
		Signal:         string(snapshot),
	})
	v.LedgerSeq = rec.Seq
	if err != nil {
		v.LedgerErr = err
		e.logger.WithError(err).WithField("signal_id", sig.ID).Warn("rejection not stored durably")
	}

	e.metrics.RecordVerdict(false, string(rule), time.Since(started).Seconds())
	e.logger.WithFields(logrus.Fields{
		"signal_id":  sig.ID,
		"account_id": sig.AccountID,
		"analyst_id": sig.AnalystID,
		"rule_id":    rule,
	}).Info(reason)
	return v
}

// ApplyFill folds an execution report for an approved signal into the
// account. A close fill is settled with the tracker first, and the account
// only changes if that succeeds, so both move as one unit.
func (e *Evaluator) ApplyFill(ctx context.Context, sig model.Signal, fill model.FillResult) (model.AccountState, error) {
	if err := validateFill(fill); err != nil {
		return model.AccountState{}, err
	}
	if fill.SignalID != "" && fill.SignalID != sig.ID {
		return model.AccountState{}, fmt.Errorf("%w: fill %s is for signal %s, not %s",
			model.ErrMalformedSettlement, fill.FillID, fill.SignalID, sig.ID)
	}
	acct := e.accounts.get(sig.AccountID)
	if acct == nil {
		return model.AccountState{}, fmt.Errorf("%w: %s", model.ErrUnknownAccount, sig.AccountID)
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	switch fill.Kind {
	case model.FillOpen:
		if _, dup := acct.state.OpenFills[fill.FillID]; dup {
			return acct.state.Clone(), fmt.Errorf("%w: %s", model.ErrDuplicateSettlement, fill.FillID)
		}
		acct.state.OpenFills[fill.FillID] = sig.ID
		acct.addExposure(sig.Symbol, signedSize(sig.Side, fill.Size))

	case model.FillClose:
		filledAt := fill.FilledAt
		if filledAt.IsZero() {
			filledAt = e.now().UTC()
		}
		_, err := e.settler.RecordSettlement(ctx, model.Settlement{
			Key:       fill.FillID,
			AnalystID: sig.AnalystID,
			SignalID:  sig.ID,
			AccountID: sig.AccountID,
			Outcome:   fill.Outcome,
			PnL:       fill.RealizedPnL,
			SettledAt: filledAt,
		})
		if err != nil {
			return acct.state.Clone(), err
		}
		acct.state.Equity = acct.state.Equity.Add(fill.RealizedPnL)
		acct.state.DailyPnL = acct.state.DailyPnL.Add(fill.RealizedPnL)
		acct.addExposure(sig.Symbol, signedSize(sig.Side, fill.Size).Neg())
		acct.state.OpenFills.Prune(sig.ID)
	}

	acct.state.UpdatedAt = e.now().UTC()
	e.persist(ctx, acct)

	e.logger.WithFields(logrus.Fields{
		"account_id": sig.AccountID,
		"signal_id":  sig.ID,
		"fill_id":    fill.FillID,
		"kind":       fill.Kind,
		"pnl":        fill.RealizedPnL.String(),
		"daily_pnl":  acct.state.DailyPnL.String(),
		"equity":     acct.state.Equity.String(),
	}).Info("fill applied")
	return acct.state.Clone(), nil
}

// ResetDue rolls every account whose trading day is behind now. Each reset
// holds the account lock, so no evaluation sees a half-reset account.
func (e *Evaluator) ResetDue(ctx context.Context, now time.Time) int {
	day := e.TradingDay(now)
	n := 0
	for _, acct := range e.accounts.all() {
		if e.resetAccount(ctx, acct, day) {
			n++
		}
	}
	return n
}

// ResetDaily rolls one account to the given trading day.
func (e *Evaluator) ResetDaily(ctx context.Context, id model.AccountID, day string) error {
	acct := e.accounts.get(id)
	if acct == nil {
		return fmt.Errorf("%w: %s", model.ErrUnknownAccount, id)
	}
	e.resetAccount(ctx, acct, day)
	return nil
}

func (e *Evaluator) resetAccount(ctx context.Context, acct *account, day string) bool {
	acct.mu.Lock()
	defer acct.mu.Unlock()
	// YYYY-MM-DD keys order lexically.
	if acct.state.TradingDay >= day {
		return false
	}
	prev := acct.state.TradingDay
	closing := acct.state.DailyPnL
	acct.state.TradingDay = day
	acct.state.EquityAtDayStart = acct.state.Equity
	acct.state.DailyPnL = decimal.Zero
	acct.state.UpdatedAt = e.now().UTC()
	e.persist(ctx, acct)

	e.logger.WithFields(logrus.Fields{
		"account_id":    acct.state.AccountID,
		"from":          prev,
		"to":            day,
		"closing_pnl":   closing.String(),
		"day_start_eqy": acct.state.EquityAtDayStart.String(),
	}).Info("daily P&L reset")
	return true
}

// persist runs under the account lock. A store failure is logged; the
// in-memory state stays authoritative.
func (e *Evaluator) persist(ctx context.Context, acct *account) {
	e.metrics.RecordAccount(string(acct.state.AccountID),
		acct.state.Equity.InexactFloat64(), acct.state.DailyPnL.InexactFloat64())
	if e.store == nil {
		return
	}
	st := acct.state.Clone()
	if err := e.store.Save(ctx, &st); err != nil {
		e.logger.WithError(err).WithField("account_id", st.AccountID).Error("failed to store account state")
	}
}
