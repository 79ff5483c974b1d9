package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signalgate/src/database"
	"signalgate/src/model"
)

// AccountRepository persists per-account risk state snapshots.
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *AccountRepository) WithDB(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Save upserts the account snapshot by account id.
func (r *AccountRepository) Save(ctx context.Context, a *model.AccountState) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			UpdateAll: true,
		}).
		Create(a).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "AccountRepository",
			"op":         "Save",
			"account_id": a.AccountID,
		}).WithError(err).Error("Failed to save account state")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "AccountRepository",
		"op":          "Save",
		"account_id":  a.AccountID,
		"equity":      a.Equity.String(),
		"daily_pnl":   a.DailyPnL.String(),
		"trading_day": a.TradingDay,
	}).Debug("Account state saved")
	return nil
}

func (r *AccountRepository) List(ctx context.Context) ([]model.AccountState, error) {
	var accounts []model.AccountState
	if err := r.db.WithContext(ctx).Order("account_id ASC").Find(&accounts).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "List",
		}).WithError(err).Error("Failed to list account states")
		return nil, err
	}
	return accounts, nil
}
