package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signalgate/src/database"
	"signalgate/src/model"
)

// AnalystRepository persists analyst identity and trust metrics.
type AnalystRepository struct {
	db *gorm.DB
}

func NewAnalystRepository() *AnalystRepository {
	return &AnalystRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *AnalystRepository) WithDB(db *gorm.DB) *AnalystRepository {
	return &AnalystRepository{db: db}
}

// Save inserts the analyst or overwrites every column of the stored row.
func (r *AnalystRepository) Save(ctx context.Context, a *model.Analyst) error {
	logger.WithFields(map[string]interface{}{
		"repo":       "AnalystRepository",
		"op":         "Save",
		"analyst_id": a.ID,
		"enabled":    a.Enabled,
		"removed":    a.Removed,
	}).Debug("Saving analyst")

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(a).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "AnalystRepository",
			"op":         "Save",
			"analyst_id": a.ID,
		}).WithError(err).Error("Failed to save analyst")
		return err
	}

	return nil
}

// List returns every analyst, removed ones included, ordered by id.
func (r *AnalystRepository) List(ctx context.Context) ([]model.Analyst, error) {
	var analysts []model.Analyst
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&analysts).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AnalystRepository",
			"op":   "List",
		}).WithError(err).Error("Failed to list analysts")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "AnalystRepository",
		"op":          "List",
		"rows_return": len(analysts),
	}).Debug("Analysts listed")

	return analysts, nil
}

// FindByID returns (nil, nil) if the analyst does not exist.
func (r *AnalystRepository) FindByID(ctx context.Context, id model.AnalystID) (*model.Analyst, error) {
	var a model.Analyst
	err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":       "AnalystRepository",
			"op":         "FindByID",
			"analyst_id": id,
		}).WithError(err).Error("Failed to fetch analyst")
		return nil, err
	}
	return &a, nil
}
