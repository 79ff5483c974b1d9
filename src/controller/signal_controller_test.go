package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalgate/src/evaluator"
	"signalgate/src/externalmodel"
	"signalgate/src/intake"
	"signalgate/src/model"
)

type fakeGate struct {
	approve   bool
	evalErr   error
	evaluated []model.Signal
	malformed []model.Signal
	fills     []model.FillResult
	fillErr   error
}

func (g *fakeGate) Evaluate(_ context.Context, sig model.Signal) (evaluator.Verdict, error) {
	g.evaluated = append(g.evaluated, sig)
	v := evaluator.Verdict{SignalID: sig.ID, AccountID: sig.AccountID, AnalystID: sig.AnalystID, EvaluatedAt: evaluatedAt}
	if g.evalErr != nil {
		return v, g.evalErr
	}
	if !g.approve {
		v.RuleID = model.RuleDailyLossLimit
		v.Reason = "daily loss -520 exceeds -500 limit"
		return v, nil
	}
	v.Approved = true
	v.Order = &evaluator.OrderParams{Symbol: sig.Symbol, Side: sig.Side, Size: sig.Size, OrderType: sig.OrderType}
	return v, nil
}

func (g *fakeGate) RejectMalformed(_ context.Context, sig model.Signal, cause error) evaluator.Verdict {
	g.malformed = append(g.malformed, sig)
	return evaluator.Verdict{SignalID: sig.ID, RuleID: model.RuleMalformedSignal, Reason: cause.Error()}
}

func (g *fakeGate) ApplyFill(_ context.Context, sig model.Signal, fill model.FillResult) (model.AccountState, error) {
	g.fills = append(g.fills, fill)
	return model.AccountState{AccountID: sig.AccountID}, g.fillErr
}

type staticResolver struct{}

func (staticResolver) Get(id model.AnalystID) (model.Analyst, bool) {
	return model.Analyst{ID: id}, id == "analyst_a"
}

func (staticResolver) ResolveSource(string) (model.AnalystID, bool) { return "", false }

func newSignalController(gate Gate, orders *fakeOrders, sink *fakeSink) *SignalController {
	normalizer := intake.NewNormalizer(nil, staticResolver{}, nil, "acct-1")
	return NewSignalController(nil, normalizer, gate, newDispatcher(orders, sink, nil), nil)
}

func buyRequest() intake.Request {
	return intake.Request{ID: "sig-1", AnalystID: "analyst_a", Symbol: "BTCUSDT", Side: "buy", Size: decimal.NewFromInt(1)}
}

func TestSubmit_ApprovedIsDispatched(t *testing.T) {
	gate := &fakeGate{approve: true}
	orders, sink := newFakeOrders(), &fakeSink{}
	c := newSignalController(gate, orders, sink)

	v, err := c.Submit(context.Background(), buyRequest(), SourceHTTP)
	require.NoError(t, err)
	assert.True(t, v.Approved)
	require.Len(t, gate.evaluated, 1)
	assert.Equal(t, model.AccountID("acct-1"), gate.evaluated[0].AccountID)
	assert.Len(t, sink.sent, 1)
	assert.Len(t, orders.byID, 1)
}

func TestSubmit_RejectedIsNotDispatched(t *testing.T) {
	gate := &fakeGate{}
	orders, sink := newFakeOrders(), &fakeSink{}
	c := newSignalController(gate, orders, sink)

	v, err := c.Submit(context.Background(), buyRequest(), SourceHTTP)
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Equal(t, model.RuleDailyLossLimit, v.RuleID)
	assert.Empty(t, sink.sent)
}

func TestSubmit_MalformedIsRecorded(t *testing.T) {
	gate := &fakeGate{approve: true}
	c := newSignalController(gate, newFakeOrders(), &fakeSink{})

	req := buyRequest()
	req.Symbol = ""
	v, err := c.Submit(context.Background(), req, SourceHTTP)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrMalformedSignal))
	assert.Equal(t, model.RuleMalformedSignal, v.RuleID)
	require.Len(t, gate.malformed, 1)
	assert.Equal(t, "sig-1", gate.malformed[0].ID)
	assert.Empty(t, gate.evaluated)
}

func TestSubmit_DispatchFailureKeepsVerdict(t *testing.T) {
	gate := &fakeGate{approve: true}
	c := newSignalController(gate, newFakeOrders(), &fakeSink{err: errors.New("unreachable")})

	v, err := c.Submit(context.Background(), buyRequest(), SourceHTTP)
	require.NoError(t, err)
	assert.True(t, v.Approved)
}

func TestSubmit_EvaluationError(t *testing.T) {
	gate := &fakeGate{evalErr: fmt.Errorf("%w: acct-1", model.ErrUnknownAccount)}
	c := newSignalController(gate, newFakeOrders(), &fakeSink{})

	_, err := c.Submit(context.Background(), buyRequest(), SourceHTTP)
	assert.True(t, errors.Is(err, model.ErrUnknownAccount))
}

func TestSubmitRow(t *testing.T) {
	gate := &fakeGate{}
	c := newSignalController(gate, newFakeOrders(), &fakeSink{})

	_, err := c.SubmitRow(context.Background(), externalmodel.AnalystSignal{
		ID: 5, AnalystID: "analyst_a", Symbol: "ethusdt", Action: "sell", Qty: 2,
	})
	require.NoError(t, err)
	require.Len(t, gate.evaluated, 1)
	assert.Equal(t, "raw-5", gate.evaluated[0].ID)
	assert.Equal(t, model.SideSell, gate.evaluated[0].Side)
}

func TestHandleMessage(t *testing.T) {
	gate := &fakeGate{approve: true}
	c := newSignalController(gate, newFakeOrders(), &fakeSink{})

	require.NoError(t, c.HandleMessage(context.Background(), []byte(`{"id":"k-1","analyst_id":"analyst_a","symbol":"BTCUSDT","side":"buy","size":"1"}`)))
	require.Len(t, gate.evaluated, 1)
	assert.Equal(t, "k-1", gate.evaluated[0].ID)

	assert.NoError(t, c.HandleMessage(context.Background(), []byte("not json")))
	assert.NoError(t, c.HandleMessage(context.Background(), []byte(`{"analyst_id":"analyst_a"}`)))
	assert.Len(t, gate.malformed, 1)
}

func TestFill_ResolvesSignalAndMovesOrder(t *testing.T) {
	gate := &fakeGate{approve: true}
	orders := newFakeOrders()
	c := newSignalController(gate, orders, &fakeSink{})

	_, err := c.Submit(context.Background(), buyRequest(), SourceHTTP)
	require.NoError(t, err)

	_, err = c.Fill(context.Background(), model.FillResult{FillID: "f-1", SignalID: "sig-1", Kind: model.FillOpen, Size: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusOpen, orders.byID[1].Status)

	_, err = c.Fill(context.Background(), model.FillResult{FillID: "f-2", SignalID: "sig-1", Kind: model.FillClose, Size: decimal.NewFromInt(1), RealizedPnL: decimal.NewFromInt(40)})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusSettled, orders.byID[1].Status)
	require.Len(t, gate.fills, 2)
}

func TestFill_OpenAfterSettleIsDuplicate(t *testing.T) {
	gate := &fakeGate{approve: true}
	orders := newFakeOrders()
	c := newSignalController(gate, orders, &fakeSink{})
	_, err := c.Submit(context.Background(), buyRequest(), SourceHTTP)
	require.NoError(t, err)
	orders.byID[1].Status = model.OrderStatusSettled

	_, err = c.Fill(context.Background(), model.FillResult{FillID: "f-1", SignalID: "sig-1", Kind: model.FillOpen, Size: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, model.ErrDuplicateSettlement))
	assert.Empty(t, gate.fills)
	assert.Equal(t, model.OrderStatusSettled, orders.byID[1].Status)
}

func TestFill_UnknownSignal(t *testing.T) {
	gate := &fakeGate{}
	c := newSignalController(gate, newFakeOrders(), &fakeSink{})

	_, err := c.Fill(context.Background(), model.FillResult{FillID: "f-1", SignalID: "nope", Kind: model.FillClose, Size: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, model.ErrUnknownSignal))
	assert.Empty(t, gate.fills)
}

func TestFill_DuplicateLeavesOrder(t *testing.T) {
	gate := &fakeGate{approve: true}
	orders := newFakeOrders()
	c := newSignalController(gate, orders, &fakeSink{})
	_, err := c.Submit(context.Background(), buyRequest(), SourceHTTP)
	require.NoError(t, err)

	gate.fillErr = fmt.Errorf("%w: f-1", model.ErrDuplicateSettlement)
	_, err = c.Fill(context.Background(), model.FillResult{FillID: "f-1", SignalID: "sig-1", Kind: model.FillClose, Size: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, model.ErrDuplicateSettlement))
	assert.Equal(t, model.OrderStatusDispatched, orders.byID[1].Status)
}
