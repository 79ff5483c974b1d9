package database

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Driver              string `envconfig:"DATABASE_DRIVER" default:"sqlite"` // sqlite | postgres
	DatabaseURLMain     string `envconfig:"DATABASE_URL_MAIN" default:"file:signalgate.db?cache=shared&_busy_timeout=5000"`
	DatabaseURLReadOnly string `envconfig:"DATABASE_URL_READONLY" default:""`
	EnableReadOnlyDB    bool   `envconfig:"ENABLE_READONLY_DB" default:"false"`
	GormLogLevel        int    `envconfig:"GORM_LOG_LEVEL" default:"2"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
