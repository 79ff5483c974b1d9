package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalgate/src/database"
	"signalgate/src/model"
)

// SettlementRepository stores realized outcomes keyed by idempotency key.
type SettlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository() *SettlementRepository {
	return &SettlementRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *SettlementRepository) WithDB(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

func (r *SettlementRepository) Create(ctx context.Context, s *model.Settlement) error {
	logger.WithFields(map[string]interface{}{
		"repo":       "SettlementRepository",
		"op":         "Create",
		"key":        s.Key,
		"analyst_id": s.AnalystID,
		"outcome":    s.Outcome,
	}).Debug("Persisting settlement")

	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SettlementRepository",
			"op":   "Create",
			"key":  s.Key,
		}).WithError(err).Error("Failed to persist settlement")
		return err
	}
	return nil
}

// Delete removes one settlement by key.
func (r *SettlementRepository) Delete(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Where("key = ?", key).Delete(&model.Settlement{}).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SettlementRepository",
			"op":   "Delete",
			"key":  key,
		}).WithError(err).Error("Failed to delete settlement")
		return err
	}
	return nil
}

// Keys returns every idempotency key already applied.
func (r *SettlementRepository) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := r.db.WithContext(ctx).Model(&model.Settlement{}).Pluck("key", &keys).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SettlementRepository",
			"op":   "Keys",
		}).WithError(err).Error("Failed to load settlement keys")
		return nil, err
	}
	return keys, nil
}

// FindByAnalyst returns the latest settlements of one analyst, newest first.
func (r *SettlementRepository) FindByAnalyst(
	ctx context.Context,
	analystID model.AnalystID,
	limit int,
) ([]model.Settlement, error) {
	if limit <= 0 {
		limit = 50
	}

	var out []model.Settlement
	err := r.db.WithContext(ctx).
		Where("analyst_id = ?", analystID).
		Order("settled_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "SettlementRepository",
			"op":         "FindByAnalyst",
			"analyst_id": analystID,
		}).WithError(err).Error("Failed to fetch settlements")
		return nil, err
	}
	return out, nil
}
