package migrations

import (
	"fmt"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalgate/src/model"
)

// normalizeAnalystSourceRefs rewrites handles stored before intake normalized
// them (raw "<@123>" mentions, padded ids) so ResolveSource can match them.
func normalizeAnalystSourceRefs(db *gorm.DB) error {
	var analysts []model.Analyst
	if err := db.Where("source_ref <> ''").Find(&analysts).Error; err != nil {
		return fmt.Errorf("load analysts: %w", err)
	}

	updated := 0
	for _, a := range analysts {
		ref := model.NormalizeSourceRef(a.SourceRef)
		if ref == a.SourceRef {
			continue
		}
		if err := db.Model(&model.Analyst{}).
			Where("id = ?", a.ID).
			Update("source_ref", ref).Error; err != nil {
			return fmt.Errorf("update analyst %s: %w", a.ID, err)
		}
		updated++
	}

	logger.WithFields(map[string]interface{}{
		"migration": "normalize_analyst_source_refs",
		"scanned":   len(analysts),
		"updated":   updated,
	}).Info("Analyst source refs normalized")
	return nil
}

// backfillDayStartEquity fills equity_at_day_start for accounts persisted
// without it, so the percent-mode loss limit has a base.
func backfillDayStartEquity(db *gorm.DB) error {
	res := db.Model(&model.AccountState{}).
		Where("equity_at_day_start IS NULL OR equity_at_day_start = 0").
		Update("equity_at_day_start", gorm.Expr("equity"))
	if res.Error != nil {
		return fmt.Errorf("backfill equity_at_day_start: %w", res.Error)
	}

	logger.WithFields(map[string]interface{}{
		"migration": "backfill_account_day_start_equity",
		"rows":      res.RowsAffected,
	}).Info("Account day-start equity backfilled")
	return nil
}
