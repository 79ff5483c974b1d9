package migrations

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"signalgate/src/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.Analyst{}, &model.AccountState{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestRunOnce_RecordsAndSkips(t *testing.T) {
	db := newTestDB(t)
	calls := 0
	fn := func(*gorm.DB) error {
		calls++
		return nil
	}

	require.NoError(t, RunOnce(db, "00099_test", fn))
	require.NoError(t, RunOnce(db, "00099_test", fn))
	assert.Equal(t, 1, calls)

	var count int64
	require.NoError(t, db.Model(&DataMigration{}).Where("id = ?", "00099_test").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunOnce_FailureIsNotRecorded(t *testing.T) {
	db := newTestDB(t)
	boom := errors.New("boom")

	err := RunOnce(db, "00098_fails", func(*gorm.DB) error { return boom })
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	calls := 0
	require.NoError(t, RunOnce(db, "00098_fails", func(*gorm.DB) error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestRunOnce_RejectsBadInput(t *testing.T) {
	db := newTestDB(t)
	assert.Error(t, RunOnce(db, "", func(*gorm.DB) error { return nil }))
	assert.Error(t, RunOnce(db, "00097_nil", nil))
	assert.NoError(t, RunOnce(nil, "00096_nodb", nil))
}

func TestRun_NormalizesSourceRefsAndBackfillsEquity(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&model.Analyst{ID: "analyst_a", Name: "A", Source: model.AnalystSourceUser, SourceRef: "<@123456>"}).Error)
	require.NoError(t, db.Create(&model.Analyst{ID: "analyst_b", Name: "B", Source: model.AnalystSourceManual, SourceRef: "already_clean"}).Error)
	require.NoError(t, db.Create(&model.AccountState{
		AccountID:    "acct-1",
		Equity:       decimal.NewFromInt(42000),
		DailyPnL:     decimal.Zero,
		OpenExposure: model.Exposure{},
	}).Error)

	require.NoError(t, Run(db))

	var a model.Analyst
	require.NoError(t, db.First(&a, "id = ?", "analyst_a").Error)
	assert.Equal(t, "123456", a.SourceRef)
	require.NoError(t, db.First(&a, "id = ?", "analyst_b").Error)
	assert.Equal(t, "already_clean", a.SourceRef)

	var acct model.AccountState
	require.NoError(t, db.First(&acct, "account_id = ?", "acct-1").Error)
	assert.True(t, acct.EquityAtDayStart.Equal(decimal.NewFromInt(42000)), acct.EquityAtDayStart.String())

	// A second run is a no-op.
	require.NoError(t, Run(db))
}
