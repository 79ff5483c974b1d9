package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"signalgate/src/evaluator"
	"signalgate/src/externalmodel"
	"signalgate/src/intake"
	"signalgate/src/metrics"
	"signalgate/src/model"
)

// Intake sources, used as the metrics label.
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
	SourcePoll  = "poll"
)

// Gate is the risk evaluator as seen by the signal flow.
type Gate interface {
	Evaluate(ctx context.Context, sig model.Signal) (evaluator.Verdict, error)
	RejectMalformed(ctx context.Context, sig model.Signal, cause error) evaluator.Verdict
	ApplyFill(ctx context.Context, sig model.Signal, fill model.FillResult) (model.AccountState, error)
}

type Normalizer interface {
	FromRequest(ctx context.Context, req intake.Request) (model.Signal, error)
	FromRow(ctx context.Context, row externalmodel.AnalystSignal) model.Signal
}

// SignalController runs a signal from intake through evaluation to
// dispatch, and routes fills back to the account and analyst they belong to.
type SignalController struct {
	normalizer Normalizer
	gate       Gate
	dispatcher *Dispatcher
	metrics    *metrics.Recorder
	logger     *logrus.Entry
}

func NewSignalController(logger *logrus.Entry, normalizer Normalizer, gate Gate, dispatcher *Dispatcher, rec *metrics.Recorder) *SignalController {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SignalController{
		normalizer: normalizer,
		gate:       gate,
		dispatcher: dispatcher,
		metrics:    rec,
		logger:     logger.WithField("component", "signals"),
	}
}

// Submit evaluates a request received over HTTP or Kafka. A request that
// fails validation is still recorded as a MalformedSignal rejection, and
// its verdict is returned together with the validation error.
func (c *SignalController) Submit(ctx context.Context, req intake.Request, source string) (evaluator.Verdict, error) {
	sig, err := c.normalizer.FromRequest(ctx, req)
	if err != nil {
		c.metrics.RecordIntake(source, "malformed")
		return c.gate.RejectMalformed(ctx, sig, err), err
	}
	return c.process(ctx, sig, source)
}

// SubmitRow evaluates a raw row polled from the bot's signal table.
func (c *SignalController) SubmitRow(ctx context.Context, row externalmodel.AnalystSignal) (evaluator.Verdict, error) {
	return c.process(ctx, c.normalizer.FromRow(ctx, row), SourcePoll)
}

// HandleMessage is the Kafka handler. Messages are never redelivered for
// business rejections; only a cancelled context asks for a retry.
func (c *SignalController) HandleMessage(ctx context.Context, payload []byte) error {
	var req intake.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		c.metrics.RecordIntake(SourceKafka, "undecodable")
		c.logger.WithError(err).WithField("payload", string(payload)).Error("kafka payload is not a signal")
		return nil
	}
	if _, err := c.Submit(ctx, req, SourceKafka); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (c *SignalController) process(ctx context.Context, sig model.Signal, source string) (evaluator.Verdict, error) {
	v, err := c.gate.Evaluate(ctx, sig)
	if err != nil {
		status := "error"
		if errors.Is(err, model.ErrMalformedSignal) || errors.Is(err, model.ErrUnknownAnalyst) {
			status = "rejected"
		}
		c.metrics.RecordIntake(source, status)
		c.logger.WithError(err).WithField("signal_id", sig.ID).Warn("signal not evaluated")
		return v, err
	}
	if !v.Approved {
		c.metrics.RecordIntake(source, "rejected")
		return v, nil
	}

	c.metrics.RecordIntake(source, "approved")
	if c.dispatcher != nil {
		// The verdict stands even when the execution side is unreachable.
		if _, err := c.dispatcher.Dispatch(ctx, sig, v); err != nil {
			c.logger.WithError(err).WithField("signal_id", sig.ID).Error("approved order not delivered")
		}
	}
	return v, nil
}

// Fill applies an execution report to the originating account and analyst.
func (c *SignalController) Fill(ctx context.Context, fill model.FillResult) (model.AccountState, error) {
	order, sig, err := c.dispatcher.Resolve(ctx, fill.SignalID)
	if err != nil {
		return model.AccountState{}, err
	}
	// Open fills are forgotten once their signal settles.
	if fill.Kind == model.FillOpen && order.Status == model.OrderStatusSettled {
		return model.AccountState{}, fmt.Errorf("%w: open fill %s for settled signal %s",
			model.ErrDuplicateSettlement, fill.FillID, sig.ID)
	}
	state, err := c.gate.ApplyFill(ctx, sig, fill)
	if err != nil {
		return state, err
	}

	status := model.OrderStatusOpen
	if fill.Kind == model.FillClose {
		status = model.OrderStatusSettled
	}
	c.dispatcher.MarkStatus(ctx, order, status)
	return state, nil
}
