package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalgate/src/database"
	"signalgate/src/model"
)

// LedgerRepository is the durable side of the rejection ledger. Rows are
// only ever inserted; sequence numbers are assigned by the ledger.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *LedgerRepository) WithDB(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) AppendRejection(ctx context.Context, rec *model.RejectionRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "LedgerRepository",
			"op":        "AppendRejection",
			"seq":       rec.Seq,
			"signal_id": rec.SignalID,
			"rule_id":   rec.RuleID,
		}).WithError(err).Error("Failed to append rejection record")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "LedgerRepository",
		"op":        "AppendRejection",
		"seq":       rec.Seq,
		"signal_id": rec.SignalID,
	}).Debug("Rejection record appended")
	return nil
}

func (r *LedgerRepository) AppendEvent(ctx context.Context, ev *model.AnalystEvent) error {
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "LedgerRepository",
			"op":         "AppendEvent",
			"seq":        ev.Seq,
			"analyst_id": ev.AnalystID,
			"kind":       ev.Kind,
		}).WithError(err).Error("Failed to append analyst event")
		return err
	}
	return nil
}

// LoadRejections returns every rejection record in replay order.
func (r *LedgerRepository) LoadRejections(ctx context.Context) ([]model.RejectionRecord, error) {
	var out []model.RejectionRecord
	if err := r.db.WithContext(ctx).Order("seq ASC").Find(&out).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "LedgerRepository",
			"op":   "LoadRejections",
		}).WithError(err).Error("Failed to load rejection records")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "LedgerRepository",
		"op":          "LoadRejections",
		"rows_return": len(out),
	}).Info("Rejection records loaded")
	return out, nil
}

// LoadEvents returns every analyst event in replay order.
func (r *LedgerRepository) LoadEvents(ctx context.Context) ([]model.AnalystEvent, error) {
	var out []model.AnalystEvent
	if err := r.db.WithContext(ctx).Order("seq ASC").Find(&out).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "LedgerRepository",
			"op":   "LoadEvents",
		}).WithError(err).Error("Failed to load analyst events")
		return nil, err
	}
	return out, nil
}
