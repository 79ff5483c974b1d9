package database

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signalgate/src/externalmodel"
)

// ReadOnlyDB is the connection used to poll raw analyst signals written by the
// chat bot. The database user for this connection should have SELECT-only permissions.
var ReadOnlyDB *gorm.DB

// InitReadOnlyDB opens the read-only database. When ENABLE_READONLY_DB is off the
// raw signal table is read from MainDB instead. No migrations run here.
func InitReadOnlyDB() error {
	config := GetConfig()
	if !config.EnableReadOnlyDB || config.DatabaseURLReadOnly == "" {
		if MainDB == nil {
			return fmt.Errorf("read-only database disabled and MainDB not initialized")
		}
		if err := MainDB.AutoMigrate(&externalmodel.AnalystSignal{}); err != nil {
			return fmt.Errorf("failed to migrate raw signal table on MainDB: %w", err)
		}
		logrus.Info("[ReadOnlyDB] disabled, reading raw signals from MainDB")
		ReadOnlyDB = MainDB
		return nil
	}

	dialector, err := Dialector(config.Driver, config.DatabaseURLReadOnly)
	if err != nil {
		return err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to read-only database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from ReadOnlyDB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping ReadOnlyDB: %w", err)
	}

	var count int64
	if err := db.Model(&externalmodel.AnalystSignal{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to access %s: %w", externalmodel.AnalystSignal{}.TableName(), err)
	}
	logrus.WithField("count", count).Info("[ReadOnlyDB] raw signal table reachable")

	ReadOnlyDB = db
	return nil
}
