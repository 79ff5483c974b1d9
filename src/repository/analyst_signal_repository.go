package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalgate/src/database"
	"signalgate/src/externalmodel"
)

// AnalystSignalRepository reads raw analyst signals captured by the chat bot.
type AnalystSignalRepository struct {
	db *gorm.DB
}

// NewAnalystSignalRepository uses the ReadOnlyDB connection by default.
func NewAnalystSignalRepository() *AnalystSignalRepository {
	logger.WithField("component", "AnalystSignalRepository").
		Info("Creating new AnalystSignalRepository with ReadOnlyDB")

	return &AnalystSignalRepository{
		db: database.ReadOnlyDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *AnalystSignalRepository) WithDB(db *gorm.DB) *AnalystSignalRepository {
	return &AnalystSignalRepository{db: db}
}

// FindAfterID fetches raw signals with ID greater than lastID,
// ordered from oldest to newest. Used for incremental polling.
func (r *AnalystSignalRepository) FindAfterID(
	ctx context.Context,
	lastID uint,
	limit int,
) ([]externalmodel.AnalystSignal, error) {

	if limit <= 0 {
		limit = 100 // default safety limit
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "AnalystSignalRepository",
		"op":     "FindAfterID",
		"lastID": lastID,
		"limit":  limit,
	}).Debug("Fetching analyst signals after ID")

	var signals []externalmodel.AnalystSignal

	err := r.db.WithContext(ctx).
		Where("id > ?", lastID).
		Order("id ASC").
		Limit(limit).
		Find(&signals).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "AnalystSignalRepository",
			"op":     "FindAfterID",
			"lastID": lastID,
			"limit":  limit,
		}).WithError(err).Error("Failed to fetch analyst signals after ID")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "AnalystSignalRepository",
		"op":          "FindAfterID",
		"lastID":      lastID,
		"rows_return": len(signals),
	}).Debug("Analyst signals after ID fetched")

	return signals, nil
}

// LastID returns the highest raw signal id, or 0 when the table is empty.
func (r *AnalystSignalRepository) LastID(ctx context.Context) (uint, error) {
	var last uint
	err := r.db.WithContext(ctx).
		Model(&externalmodel.AnalystSignal{}).
		Select("COALESCE(MAX(id), 0)").
		Row().
		Scan(&last)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AnalystSignalRepository",
			"op":   "LastID",
		}).WithError(err).Error("Failed to read last analyst signal id")
		return 0, err
	}
	return last, nil
}
