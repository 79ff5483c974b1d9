package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalgate/src/ledger"
	"signalgate/src/model"
	"signalgate/src/registry"
	"signalgate/src/risk"
	"signalgate/src/tracker"
)

var now = time.Date(2025, time.March, 4, 15, 0, 0, 0, time.UTC)

type harness struct {
	eval    *Evaluator
	reg     *registry.Registry
	tracker *tracker.Tracker
	ledger  *ledger.Ledger
	alpha   model.AnalystID
}

type failingStore struct{}

func (failingStore) AppendRejection(context.Context, *model.RejectionRecord) error {
	return errors.New("db down")
}
func (failingStore) AppendEvent(context.Context, *model.AnalystEvent) error { return errors.New("db down") }
func (failingStore) LoadRejections(context.Context) ([]model.RejectionRecord, error) {
	return nil, nil
}
func (failingStore) LoadEvents(context.Context) ([]model.AnalystEvent, error) { return nil, nil }

type accountStore struct {
	mu   sync.Mutex
	rows map[model.AccountID]model.AccountState
}

func (s *accountStore) Save(_ context.Context, a *model.AccountState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[a.AccountID] = a.Clone()
	return nil
}

func (s *accountStore) List(context.Context) ([]model.AccountState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AccountState, 0, len(s.rows))
	for _, a := range s.rows {
		out = append(out, a.Clone())
	}
	return out, nil
}

func newHarness(t *testing.T, rules risk.RuleSet, ledgerStore ledger.Store) *harness {
	t.Helper()
	log, _ := logrustest.NewNullLogger()
	entry := logrus.NewEntry(log)

	led := ledger.New(entry, ledgerStore, nil, nil)
	reg := registry.New(entry, nil, led)
	tr, err := tracker.New(entry, tracker.Config{EVFloor: -0.5, FloorStreak: 5, AutoDisable: true}, reg, nil, nil)
	require.NoError(t, err)

	ev, err := New(entry, Config{AccountID: "acct-1", TradingDayTZ: "UTC"}, rules, Deps{
		Analysts: reg,
		Settler:  tr,
		Ledger:   led,
	})
	require.NoError(t, err)
	ev.now = func() time.Time { return now }

	_, err = ev.OpenAccount(context.Background(), "acct-1", decimal.NewFromInt(50000))
	require.NoError(t, err)
	a, err := reg.Register(context.Background(), registry.RegisterRequest{Name: "Alpha"})
	require.NoError(t, err)

	return &harness{eval: ev, reg: reg, tracker: tr, ledger: led, alpha: a.ID}
}

func signal(id string, analyst model.AnalystID) model.Signal {
	return model.Signal{
		ID:         id,
		AccountID:  "acct-1",
		AnalystID:  analyst,
		Symbol:     "ES",
		Side:       model.SideBuy,
		OrderType:  model.OrderTypeMarket,
		Size:       decimal.NewFromInt(1),
		Timestamp:  now,
		ReceivedAt: now,
		Market: model.MarketSnapshot{
			Bid:      decimal.RequireFromString("99.95"),
			Ask:      decimal.RequireFromString("100.05"),
			QuotedAt: now.Add(-time.Second),
		},
	}
}

func closeFill(id string, pnl string) model.FillResult {
	return model.FillResult{
		FillID:      id,
		Kind:        model.FillClose,
		Size:        decimal.NewFromInt(1),
		Price:       decimal.NewFromInt(100),
		RealizedPnL: decimal.RequireFromString(pnl),
		FilledAt:    now,
	}
}

func TestDailyLossScenario(t *testing.T) {
	h := newHarness(t, risk.DefaultRuleSet(), nil)
	ctx := context.Background()

	sig1 := signal("s1", h.alpha)
	v, err := h.eval.Evaluate(ctx, sig1)
	require.NoError(t, err)
	require.True(t, v.Approved)

	_, err = h.eval.ApplyFill(ctx, sig1, closeFill("f1", "-450"))
	require.NoError(t, err)

	v, err = h.eval.Evaluate(ctx, signal("s2", h.alpha))
	require.NoError(t, err)
	require.True(t, v.Approved, "at -450: %s", v.Reason)

	acct, err := h.eval.ApplyFill(ctx, signal("s2", h.alpha), closeFill("f2", "-70"))
	require.NoError(t, err)
	assert.Equal(t, "-520", acct.DailyPnL.String())
	assert.Equal(t, "49480", acct.Equity.String())

	other, _ := h.reg.Register(ctx, registry.RegisterRequest{Name: "Beta"})
	v, err = h.eval.Evaluate(ctx, signal("s3", other.ID))
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Equal(t, model.RuleDailyLossLimit, v.RuleID)
	assert.Equal(t, "daily loss -$520 exceeds -$500 limit", v.Reason)

	page := h.ledger.Query(ledger.Query{})
	require.Len(t, page.Records, 1)
	assert.Equal(t, "s3", page.Records[0].SignalID)
	assert.Equal(t, v.LedgerSeq, page.Records[0].Seq)
}

func TestSpreadMidRewrite(t *testing.T) {
	h := newHarness(t, risk.DefaultRuleSet(), nil)
	sig := signal("s1", h.alpha)
	sig.Market.Bid = decimal.RequireFromString("96.5")
	sig.Market.Ask = decimal.RequireFromString("103.5")

	v, err := h.eval.Evaluate(context.Background(), sig)
	require.NoError(t, err)
	require.True(t, v.Approved)
	assert.True(t, v.Order.PriceRewritten)
	assert.Equal(t, model.OrderTypeLimit, v.Order.OrderType)
	assert.Equal(t, "100", v.Order.LimitPrice.String())
	assert.Zero(t, h.ledger.Query(ledger.Query{}).Total)
}

func TestDisabledAnalystRejectedRegardlessOfRules(t *testing.T) {
	rules := risk.DefaultRuleSet()
	rules.DailyLossLimit.Enabled = false
	rules.EquityFloor.Enabled = false
	rules.PriceConfirmation.Enabled = false
	rules.SpreadProtection.Enabled = false
	rules.MaxQuoteAge = 0
	h := newHarness(t, rules, nil)
	ctx := context.Background()

	_, err := h.reg.SetEnabled(ctx, h.alpha, false, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		v, err := h.eval.Evaluate(ctx, signal(fmt.Sprintf("s%d", i), h.alpha))
		require.NoError(t, err)
		assert.Equal(t, model.RuleAnalystDisabled, v.RuleID)
	}

	_, err = h.reg.SetEnabled(ctx, h.alpha, true, "")
	require.NoError(t, err)
	v, err := h.eval.Evaluate(ctx, signal("s9", h.alpha))
	require.NoError(t, err)
	assert.True(t, v.Approved)
}

func TestAutoDisableThenAnalystDisabled(t *testing.T) {
	h := newHarness(t, risk.DefaultRuleSet(), nil)
	ctx := context.Background()

	_, err := h.reg.Update(ctx, h.alpha, func(a *model.Analyst) (*model.AnalystEvent, error) {
		a.Trades, a.Wins, a.Losses, a.WinRate, a.ExpectedValue = 10, 2, 8, 0.2, -0.3
		return nil, nil
	})
	require.NoError(t, err)

	// Small losses keep the account well inside its limits.
	for i := 0; i < 5; i++ {
		sig := signal(fmt.Sprintf("s%d", i), h.alpha)
		_, err := h.eval.ApplyFill(ctx, sig, closeFill(fmt.Sprintf("f%d", i), "-5"))
		require.NoError(t, err)
	}

	a, _ := h.reg.Get(h.alpha)
	require.False(t, a.Enabled)

	v, err := h.eval.Evaluate(ctx, signal("next", h.alpha))
	require.NoError(t, err)
	assert.Equal(t, model.RuleAnalystDisabled, v.RuleID)

	events := h.ledger.Events(h.alpha, 0)
	require.NotEmpty(t, events)
	assert.Equal(t, model.AnalystEventAutoDisabled, events[len(events)-1].Kind)
}

func TestBoundaryRejections(t *testing.T) {
	h := newHarness(t, risk.DefaultRuleSet(), nil)
	ctx := context.Background()

	bad := signal("s1", h.alpha)
	bad.Size = decimal.Zero
	v, err := h.eval.Evaluate(ctx, bad)
	assert.True(t, errors.Is(err, model.ErrMalformedSignal))
	assert.Equal(t, model.RuleMalformedSignal, v.RuleID)

	v, err = h.eval.Evaluate(ctx, signal("s2", "analyst_ghost"))
	assert.True(t, errors.Is(err, model.ErrUnknownAnalyst))
	assert.Equal(t, model.RuleUnknownAnalyst, v.RuleID)

	assert.Equal(t, 2, h.ledger.Query(ledger.Query{}).Total)

	sig := signal("s3", h.alpha)
	sig.AccountID = "acct-missing"
	_, err = h.eval.Evaluate(ctx, sig)
	assert.True(t, errors.Is(err, model.ErrUnknownAccount))
}

func TestLedgerFailureDoesNotChangeVerdict(t *testing.T) {
	rules := risk.DefaultRuleSet()
	rules.SpreadProtection.Action = risk.SpreadActionReject
	h := newHarness(t, rules, failingStore{})

	sig := signal("s1", h.alpha)
	sig.Market.Bid = decimal.NewFromInt(90)
	sig.Market.Ask = decimal.NewFromInt(110)

	v, err := h.eval.Evaluate(context.Background(), sig)
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Equal(t, model.RuleSpreadProtection, v.RuleID)
	assert.True(t, errors.Is(v.LedgerErr, model.ErrLedgerWrite))
	assert.Equal(t, 1, h.ledger.Query(ledger.Query{}).Total)
}

func TestApplyFill_UnknownAnalystLeavesAccountUntouched(t *testing.T) {
	h := newHarness(t, risk.DefaultRuleSet(), nil)
	ctx := context.Background()

	_, err := h.eval.ApplyFill(ctx, signal("s1", "analyst_ghost"), closeFill("f1", "-100"))
	assert.True(t, errors.Is(err, model.ErrUnknownAnalyst))

	acct, _ := h.eval.Account("acct-1")
	assert.True(t, acct.DailyPnL.IsZero())
	assert.Equal(t, "50000", acct.Equity.String())
}

func TestApplyFill_ReplayIsDetected(t *testing.T) {
	h := newHarness(t, risk.DefaultRuleSet(), nil)
	ctx := context.Background()
	sig := signal("s1", h.alpha)

	_, err := h.eval.ApplyFill(ctx, sig, closeFill("f1", "25"))
	require.NoError(t, err)
	_, err = h.eval.ApplyFill(ctx, sig, closeFill("f1", "25"))
	assert.True(t, errors.Is(err, model.ErrDuplicateSettlement))

	acct, _ := h.eval.Account("acct-1")
	assert.Equal(t, "25", acct.DailyPnL.String())
	a, _ := h.reg.Get(h.alpha)
	assert.Equal(t, int64(1), a.Wins)
}

func TestApplyFill_Exposure(t *testing.T) {
	h := newHarness(t, risk.DefaultRuleSet(), nil)
	ctx := context.Background()
	sig := signal("s1", h.alpha)

	open := model.FillResult{FillID: "o1", Kind: model.FillOpen, Size: decimal.NewFromInt(3), Price: decimal.NewFromInt(100)}
	acct, err := h.eval.ApplyFill(ctx, sig, open)
	require.NoError(t, err)
	assert.Equal(t, "3", acct.OpenExposure["ES"].String())

	_, err = h.eval.ApplyFill(ctx, sig, open)
	assert.True(t, errors.Is(err, model.ErrDuplicateSettlement))

	c := closeFill("c1", "10")
	c.Size = decimal.NewFromInt(3)
	acct, err = h.eval.ApplyFill(ctx, sig, c)
	require.NoError(t, err)
	_, held := acct.OpenExposure["ES"]
	assert.False(t, held)

	_, err = h.eval.ApplyFill(ctx, sig, model.FillResult{FillID: "x", Kind: "partial", Size: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, model.ErrMalformedSettlement))
}

func TestApplyFill_OpenReplayAfterRestart(t *testing.T) {
	h := newHarness(t, risk.DefaultRuleSet(), nil)
	ctx := context.Background()
	store := &accountStore{rows: map[model.AccountID]model.AccountState{}}
	h.eval.store = store
	sig := signal("s1", h.alpha)

	open := model.FillResult{FillID: "o1", Kind: model.FillOpen, Size: decimal.NewFromInt(3), Price: decimal.NewFromInt(100)}
	_, err := h.eval.ApplyFill(ctx, sig, open)
	require.NoError(t, err)

	restarted, err := New(h.eval.logger, Config{TradingDayTZ: "UTC"}, risk.DefaultRuleSet(), Deps{
		Analysts: h.reg,
		Settler:  h.tracker,
		Ledger:   h.ledger,
		Store:    store,
	})
	require.NoError(t, err)
	restarted.now = func() time.Time { return now }
	require.NoError(t, restarted.Load(ctx))

	_, err = restarted.ApplyFill(ctx, sig, open)
	assert.True(t, errors.Is(err, model.ErrDuplicateSettlement))
	acct, _ := restarted.Account("acct-1")
	assert.Equal(t, "3", acct.OpenExposure["ES"].String())

	c := closeFill("c1", "10")
	c.Size = decimal.NewFromInt(3)
	_, err = restarted.ApplyFill(ctx, sig, c)
	require.NoError(t, err)
	assert.Empty(t, store.rows["acct-1"].OpenFills)
}

func TestResetDue(t *testing.T) {
	h := newHarness(t, risk.DefaultRuleSet(), nil)
	ctx := context.Background()
	_, err := h.eval.ApplyFill(ctx, signal("s1", h.alpha), closeFill("f1", "-600"))
	require.NoError(t, err)

	v, _ := h.eval.Evaluate(ctx, signal("s2", h.alpha))
	require.Equal(t, model.RuleDailyLossLimit, v.RuleID)

	assert.Zero(t, h.eval.ResetDue(ctx, now))
	assert.Equal(t, 1, h.eval.ResetDue(ctx, now.Add(24*time.Hour)))
	assert.Zero(t, h.eval.ResetDue(ctx, now.Add(24*time.Hour)))

	acct, _ := h.eval.Account("acct-1")
	assert.True(t, acct.DailyPnL.IsZero())
	assert.Equal(t, "49400", acct.EquityAtDayStart.String())
	assert.Equal(t, "2025-03-05", acct.TradingDay)

	v, _ = h.eval.Evaluate(ctx, signal("s3", h.alpha))
	assert.True(t, v.Approved, v.Reason)
}

func TestSwapRules_VersionedAndAtomic(t *testing.T) {
	h := newHarness(t, risk.DefaultRuleSet(), nil)
	ctx := context.Background()
	assert.Equal(t, uint64(1), h.eval.Rules().Version)

	next := risk.DefaultRuleSet()
	next.DailyLossLimit.Amount = decimal.NewFromInt(100)
	got, err := h.eval.SwapRules(next, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)

	_, err = h.eval.SwapRules(next, 1)
	assert.True(t, errors.Is(err, model.ErrConfigurationConflict))

	bad := risk.DefaultRuleSet()
	bad.SpreadProtection.Action = "sideways"
	_, err = h.eval.SwapRules(bad, 0)
	assert.Error(t, err)
	assert.Equal(t, uint64(2), h.eval.Rules().Version)

	_, _ = h.eval.ApplyFill(ctx, signal("s1", h.alpha), closeFill("f1", "-150"))
	v, _ := h.eval.Evaluate(ctx, signal("s2", h.alpha))
	assert.Equal(t, model.RuleDailyLossLimit, v.RuleID)
	assert.Equal(t, uint64(2), v.RuleSetVersion)
}

// blockingAnalysts holds evaluations inside the rules read lock until released.
type blockingAnalysts struct {
	inner   Analysts
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAnalysts) Get(id model.AnalystID) (model.Analyst, bool) {
	b.mu.Lock()
	b.calls++
	second := b.calls == 2
	b.mu.Unlock()
	if second {
		close(b.entered)
		<-b.release
	}
	return b.inner.Get(id)
}

func TestSwapRules_WaitsForInFlightAndRejectsConcurrentSwap(t *testing.T) {
	h := newHarness(t, risk.DefaultRuleSet(), nil)
	ctx := context.Background()

	blocker := &blockingAnalysts{inner: h.reg, entered: make(chan struct{}), release: make(chan struct{})}
	h.eval.analysts = blocker

	verdict := make(chan Verdict, 1)
	go func() {
		v, _ := h.eval.Evaluate(ctx, signal("s1", h.alpha))
		verdict <- v
	}()
	<-blocker.entered

	swapped := make(chan error, 1)
	go func() {
		_, err := h.eval.SwapRules(risk.DefaultRuleSet(), 0)
		swapped <- err
	}()
	require.Eventually(t, h.eval.swapping.Load, time.Second, time.Millisecond)

	_, err := h.eval.SwapRules(risk.DefaultRuleSet(), 0)
	assert.True(t, errors.Is(err, model.ErrConfigurationConflict))

	select {
	case <-swapped:
		t.Fatalf("swap applied while an evaluation was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(blocker.release)
	v := <-verdict
	assert.Equal(t, uint64(1), v.RuleSetVersion)
	require.NoError(t, <-swapped)
	assert.Equal(t, uint64(2), h.eval.Rules().Version)
}

func TestConcurrentFillsAndEvaluationsSerializePerAccount(t *testing.T) {
	h := newHarness(t, risk.DefaultRuleSet(), nil)
	ctx := context.Background()
	_, err := h.eval.OpenAccount(ctx, "acct-2", decimal.NewFromInt(50000))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = h.eval.ApplyFill(ctx, signal(fmt.Sprintf("s%d", i), h.alpha), closeFill(fmt.Sprintf("f%d", i), "-1"))
		}(i)
		go func(i int) {
			defer wg.Done()
			sig := signal(fmt.Sprintf("e%d", i), h.alpha)
			if i%2 == 0 {
				sig.AccountID = "acct-2"
			}
			_, _ = h.eval.Evaluate(ctx, sig)
		}(i)
	}
	wg.Wait()

	acct, _ := h.eval.Account("acct-1")
	assert.Equal(t, "-40", acct.DailyPnL.String())
	assert.Equal(t, "49960", acct.Equity.String())
	a, _ := h.reg.Get(h.alpha)
	assert.Equal(t, int64(40), a.Trades)

	assert.Len(t, h.eval.Accounts(), 2)
}

func TestRejectMalformed_RecordsIntakeFailure(t *testing.T) {
	h := newHarness(t, risk.DefaultRuleSet(), nil)
	sig := signal("s-bad", h.alpha)
	sig.Symbol = ""

	v := h.eval.RejectMalformed(context.Background(), sig, fmt.Errorf("%w: symbol is required", model.ErrMalformedSignal))
	assert.False(t, v.Approved)
	assert.Equal(t, model.RuleMalformedSignal, v.RuleID)
	assert.Equal(t, "malformed signal: symbol is required", v.Reason)

	page := h.ledger.Query(ledger.Query{RuleID: model.RuleMalformedSignal})
	require.Len(t, page.Records, 1)
	assert.Equal(t, "s-bad", page.Records[0].SignalID)
}
