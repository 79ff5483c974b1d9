package executors

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalgate/src/evaluator"
	"signalgate/src/externalmodel"
)

// SignalSource is the bot's raw signal table. Implemented by
// repository.AnalystSignalRepository.
type SignalSource interface {
	FindAfterID(ctx context.Context, lastID uint, limit int) ([]externalmodel.AnalystSignal, error)
	LastID(ctx context.Context) (uint, error)
}

// RowSubmitter evaluates one raw row. Implemented by controller.SignalController.
type RowSubmitter interface {
	SubmitRow(ctx context.Context, row externalmodel.AnalystSignal) (evaluator.Verdict, error)
}

// Poller feeds new rows of the raw signal table through the gateway, in id
// order, one row at a time.
type Poller struct {
	source SignalSource
	submit RowSubmitter
	cfg    Config
	lastID uint
}

func NewPoller(source SignalSource, submit RowSubmitter, cfg Config) *Poller {
	if cfg.PollBatch <= 0 {
		cfg.PollBatch = 100
	}
	return &Poller{source: source, submit: submit, cfg: cfg}
}

// StartLoop polls every LoopPeriod until ctx is done.
func (p *Poller) StartLoop(ctx context.Context) error {
	if p.cfg.PollFromLatest {
		last, err := p.source.LastID(ctx)
		if err != nil {
			logger.WithError(err).Error("Failed to read last signal id")
			return err
		}
		p.lastID = last
	}
	logger.WithField("last_id", p.lastID).Info("signal poll loop started")

	ticker := time.NewTicker(p.cfg.LoopPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Println("loop stopped")
			return nil

		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("signal poll failed")
			}
		}
	}
}

// Poll drains every row newer than the last one seen and returns how many
// were submitted. A row that fails evaluation still advances the cursor;
// its rejection is already in the ledger.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	n := 0
	for {
		rows, err := p.source.FindAfterID(ctx, p.lastID, p.cfg.PollBatch)
		if err != nil {
			return n, err
		}
		for _, row := range rows {
			if ctx.Err() != nil {
				return n, ctx.Err()
			}
			v, err := p.submit.SubmitRow(ctx, row)
			entry := logger.WithFields(map[string]interface{}{
				"row_id":   row.ID,
				"approved": v.Approved,
				"rule_id":  v.RuleID,
			})
			if err != nil {
				entry.WithError(err).Warn("polled signal not evaluated")
			} else {
				entry.Debug("polled signal evaluated")
			}
			p.lastID = row.ID
			n++
		}
		if len(rows) < p.cfg.PollBatch {
			return n, nil
		}
	}
}

// LastID is the id of the newest row processed.
func (p *Poller) LastID() uint {
	return p.lastID
}
