package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"signalgate/src/connectors"
	"signalgate/src/evaluator"
	"signalgate/src/metrics"
	"signalgate/src/model"
)

var ErrNotApproved = errors.New("verdict not approved")

// OrderStore is the approved order book. Implemented by
// repository.OrderRepository.
type OrderStore interface {
	Create(ctx context.Context, order *model.ApprovedOrder) error
	FindBySignalID(ctx context.Context, signalID string) (*model.ApprovedOrder, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
	RecordDispatch(ctx context.Context, logEntry *model.OrderDispatchLog, status string) error
}

// Dispatcher books approved verdicts as orders and hands them to the
// execution side. The stored order keeps a snapshot of the signal so fills
// can be traced back to it.
type Dispatcher struct {
	orders     OrderStore
	sink       connectors.OrderSink
	exceptions ExceptionSink
	metrics    *metrics.Recorder
	logger     *logrus.Entry
	now        func() time.Time
	newID      func() string
}

func NewDispatcher(logger *logrus.Entry, orders OrderStore, sink connectors.OrderSink, exceptions ExceptionSink, rec *metrics.Recorder) *Dispatcher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		orders:     orders,
		sink:       sink,
		exceptions: exceptions,
		metrics:    rec,
		logger:     logger.WithField("component", "dispatcher"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Dispatch stores the order for an approved verdict and sends it. The
// returned order is nil only when it could not be stored.
func (d *Dispatcher) Dispatch(ctx context.Context, sig model.Signal, v evaluator.Verdict) (*model.ApprovedOrder, error) {
	if !v.Approved || v.Order == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotApproved, v.SignalID)
	}

	snapshot, err := json.Marshal(sig)
	if err != nil {
		return nil, err
	}

	order := &model.ApprovedOrder{
		SignalID:       sig.ID,
		ClientOrderID:  d.newID(),
		AccountID:      sig.AccountID,
		AnalystID:      sig.AnalystID,
		Symbol:         v.Order.Symbol,
		Side:           v.Order.Side,
		OrderType:      v.Order.OrderType,
		Size:           v.Order.Size,
		LimitPrice:     v.Order.LimitPrice,
		PriceRewritten: v.Order.PriceRewritten,
		RuleSetVersion: v.RuleSetVersion,
		Status:         model.OrderStatusApproved,
		Signal:         string(snapshot),
	}
	if err := d.orders.Create(ctx, order); err != nil {
		Capture(ctx, d.exceptions, "dispatcher", "orders.Create", "error", err, map[string]interface{}{
			"signal_id": sig.ID,
		})
		d.metrics.RecordDispatch(d.sink.Name(), model.DispatchStatusError)
		return nil, err
	}

	requestedAt := d.now().UTC()
	ack, sendErr := d.sink.Send(ctx, connectors.OrderRequest{
		ClientOrderID:  order.ClientOrderID,
		SignalID:       order.SignalID,
		AccountID:      string(order.AccountID),
		AnalystID:      string(order.AnalystID),
		Symbol:         order.Symbol,
		Side:           string(order.Side),
		OrderType:      string(order.OrderType),
		Size:           order.Size,
		LimitPrice:     order.LimitPrice,
		PriceRewritten: order.PriceRewritten,
		RuleSetVersion: order.RuleSetVersion,
		ApprovedAt:     v.EvaluatedAt,
	})
	completedAt := d.now().UTC()

	entry := &model.OrderDispatchLog{
		OrderID:     order.ID,
		SignalID:    order.SignalID,
		Sink:        d.sink.Name(),
		RequestedAt: requestedAt,
		CompletedAt: &completedAt,
	}
	status := model.OrderStatusDispatched
	switch {
	case sendErr != nil:
		msg := sendErr.Error()
		entry.Status = model.DispatchStatusError
		entry.ErrorMessage = &msg
		status = model.OrderStatusFailed
		Capture(ctx, d.exceptions, "dispatcher", "sink.Send", "error", sendErr, map[string]interface{}{
			"signal_id":       order.SignalID,
			"client_order_id": order.ClientOrderID,
			"sink":            d.sink.Name(),
		})
	case ack.Status == model.DispatchStatusDryRun:
		entry.Status = model.DispatchStatusDryRun
		entry.ExternalID = ack.ExternalID
	default:
		entry.Status = model.DispatchStatusSent
		entry.ExternalID = ack.ExternalID
	}
	d.metrics.RecordDispatch(d.sink.Name(), entry.Status)

	if err := d.orders.RecordDispatch(ctx, entry, status); err != nil {
		Capture(ctx, d.exceptions, "dispatcher", "orders.RecordDispatch", "error", err, map[string]interface{}{
			"order_id": order.ID,
			"status":   status,
		})
	} else {
		order.Status = status
		order.Logs = append(order.Logs, *entry)
	}

	d.logger.WithFields(map[string]interface{}{
		"signal_id":       order.SignalID,
		"client_order_id": order.ClientOrderID,
		"status":          entry.Status,
		"external_id":     entry.ExternalID,
	}).Info("order dispatched")

	if sendErr != nil {
		return order, fmt.Errorf("dispatch %s: %w", order.ClientOrderID, sendErr)
	}
	return order, nil
}

// Resolve returns the order booked for signalID and the signal it was
// approved from.
func (d *Dispatcher) Resolve(ctx context.Context, signalID string) (*model.ApprovedOrder, model.Signal, error) {
	if signalID == "" {
		return nil, model.Signal{}, fmt.Errorf("%w: fill without signal id", model.ErrMalformedSettlement)
	}
	order, err := d.orders.FindBySignalID(ctx, signalID)
	if err != nil {
		return nil, model.Signal{}, err
	}
	if order == nil {
		return nil, model.Signal{}, fmt.Errorf("%w: %s", model.ErrUnknownSignal, signalID)
	}
	var sig model.Signal
	if err := json.Unmarshal([]byte(order.Signal), &sig); err != nil {
		return order, model.Signal{}, fmt.Errorf("decode signal snapshot for %s: %w", signalID, err)
	}
	return order, sig, nil
}

// MarkStatus moves a booked order along after a fill. Failures are logged;
// the fill itself has already been applied.
func (d *Dispatcher) MarkStatus(ctx context.Context, order *model.ApprovedOrder, status string) {
	if order == nil || order.Status == status {
		return
	}
	if err := d.orders.UpdateStatus(ctx, order.ID, status); err != nil {
		d.logger.WithError(err).WithField("order_id", order.ID).Warn("order status not updated")
		return
	}
	order.Status = status
}
