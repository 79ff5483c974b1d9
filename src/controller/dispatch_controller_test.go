package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalgate/src/connectors"
	"signalgate/src/evaluator"
	"signalgate/src/model"
)

type fakeOrders struct {
	byID      map[uint]*model.ApprovedOrder
	logs      []model.OrderDispatchLog
	createErr error
	nextID    uint
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{byID: map[uint]*model.ApprovedOrder{}}
}

func (f *fakeOrders) Create(_ context.Context, order *model.ApprovedOrder) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	order.ID = f.nextID
	cp := *order
	f.byID[order.ID] = &cp
	return nil
}

func (f *fakeOrders) FindBySignalID(_ context.Context, signalID string) (*model.ApprovedOrder, error) {
	for _, o := range f.byID {
		if o.SignalID == signalID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, id uint, status string) error {
	o, ok := f.byID[id]
	if !ok {
		return errors.New("no such order")
	}
	o.Status = status
	return nil
}

func (f *fakeOrders) RecordDispatch(ctx context.Context, entry *model.OrderDispatchLog, status string) error {
	f.logs = append(f.logs, *entry)
	return f.UpdateStatus(ctx, entry.OrderID, status)
}

type fakeSink struct {
	sent []connectors.OrderRequest
	ack  connectors.Ack
	err  error
}

func (*fakeSink) Name() string { return "fake" }

func (s *fakeSink) Send(_ context.Context, req connectors.OrderRequest) (connectors.Ack, error) {
	s.sent = append(s.sent, req)
	return s.ack, s.err
}

var evaluatedAt = time.Date(2025, time.March, 4, 15, 0, 0, 0, time.UTC)

func approvedSignal() (model.Signal, evaluator.Verdict) {
	sig := model.Signal{
		ID:         "sig-1",
		AccountID:  "acct-1",
		AnalystID:  "analyst_a",
		Symbol:     "BTCUSDT",
		Side:       model.SideBuy,
		OrderType:  model.OrderTypeLimit,
		Size:       decimal.NewFromInt(2),
		Price:      decimal.NewFromInt(100),
		Timestamp:  evaluatedAt,
		ReceivedAt: evaluatedAt,
	}
	v := evaluator.Verdict{
		SignalID:       sig.ID,
		AccountID:      sig.AccountID,
		AnalystID:      sig.AnalystID,
		Approved:       true,
		RuleSetVersion: 3,
		EvaluatedAt:    evaluatedAt,
		Order: &evaluator.OrderParams{
			Symbol:         sig.Symbol,
			Side:           sig.Side,
			Size:           sig.Size,
			OrderType:      model.OrderTypeLimit,
			LimitPrice:     decimal.NewFromInt(101),
			PriceRewritten: true,
		},
	}
	return sig, v
}

func newDispatcher(orders OrderStore, sink connectors.OrderSink, exc ExceptionSink) *Dispatcher {
	d := NewDispatcher(nil, orders, sink, exc, nil)
	d.newID = func() string { return "coid-1" }
	d.now = func() time.Time { return evaluatedAt }
	return d
}

func TestDispatch_BooksAndSends(t *testing.T) {
	orders := newFakeOrders()
	sink := &fakeSink{ack: connectors.Ack{ExternalID: "ex-1"}}
	d := newDispatcher(orders, sink, nil)
	sig, v := approvedSignal()

	order, err := d.Dispatch(context.Background(), sig, v)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDispatched, order.Status)
	assert.Equal(t, model.OrderStatusDispatched, orders.byID[order.ID].Status)

	require.Len(t, sink.sent, 1)
	req := sink.sent[0]
	assert.Equal(t, "coid-1", req.ClientOrderID)
	assert.True(t, req.LimitPrice.Equal(decimal.NewFromInt(101)))
	assert.True(t, req.PriceRewritten)
	assert.Equal(t, uint64(3), req.RuleSetVersion)

	require.Len(t, orders.logs, 1)
	assert.Equal(t, model.DispatchStatusSent, orders.logs[0].Status)
	assert.Equal(t, "ex-1", orders.logs[0].ExternalID)
	assert.Equal(t, "fake", orders.logs[0].Sink)
}

func TestDispatch_DryRun(t *testing.T) {
	orders := newFakeOrders()
	d := newDispatcher(orders, connectors.NewDryRunSink(), nil)
	sig, v := approvedSignal()

	_, err := d.Dispatch(context.Background(), sig, v)
	require.NoError(t, err)
	require.Len(t, orders.logs, 1)
	assert.Equal(t, model.DispatchStatusDryRun, orders.logs[0].Status)
	assert.Equal(t, "dry-coid-1", orders.logs[0].ExternalID)
}

func TestDispatch_SendFailureIsRecorded(t *testing.T) {
	orders := newFakeOrders()
	exc := &fakeExceptions{}
	d := newDispatcher(orders, &fakeSink{err: errors.New("HTTP 502")}, exc)
	sig, v := approvedSignal()

	order, err := d.Dispatch(context.Background(), sig, v)
	require.Error(t, err)
	require.NotNil(t, order)
	assert.Equal(t, model.OrderStatusFailed, orders.byID[order.ID].Status)
	require.Len(t, orders.logs, 1)
	require.NotNil(t, orders.logs[0].ErrorMessage)
	assert.Equal(t, "HTTP 502", *orders.logs[0].ErrorMessage)
	require.Len(t, exc.got, 1)
	assert.Equal(t, "sink.Send", exc.got[0].Method)
}

func TestDispatch_RejectsUnapproved(t *testing.T) {
	d := newDispatcher(newFakeOrders(), &fakeSink{}, nil)
	sig, v := approvedSignal()
	v.Approved = false

	_, err := d.Dispatch(context.Background(), sig, v)
	assert.True(t, errors.Is(err, ErrNotApproved))
}

func TestDispatch_StoreFailureSkipsSend(t *testing.T) {
	orders := newFakeOrders()
	orders.createErr = errors.New("disk full")
	sink := &fakeSink{}
	d := newDispatcher(orders, sink, &fakeExceptions{})
	sig, v := approvedSignal()

	order, err := d.Dispatch(context.Background(), sig, v)
	require.Error(t, err)
	assert.Nil(t, order)
	assert.Empty(t, sink.sent)
}

func TestResolve(t *testing.T) {
	orders := newFakeOrders()
	d := newDispatcher(orders, &fakeSink{}, nil)
	sig, v := approvedSignal()
	_, err := d.Dispatch(context.Background(), sig, v)
	require.NoError(t, err)

	order, got, err := d.Resolve(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "coid-1", order.ClientOrderID)
	assert.Equal(t, sig.AnalystID, got.AnalystID)
	assert.True(t, got.Size.Equal(sig.Size))

	_, _, err = d.Resolve(context.Background(), "missing")
	assert.True(t, errors.Is(err, model.ErrUnknownSignal))

	_, _, err = d.Resolve(context.Background(), "")
	assert.True(t, errors.Is(err, model.ErrMalformedSettlement))
}
