package evaluator

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AccountID     string  `envconfig:"ACCOUNT_ID" default:"default"`
	AccountEquity float64 `envconfig:"ACCOUNT_EQUITY" default:"50000"`
	// The trading day starts at RolloverHour in TradingDayTZ.
	TradingDayTZ string `envconfig:"TRADING_DAY_TZ" default:"America/New_York"`
	RolloverHour int    `envconfig:"TRADING_DAY_ROLLOVER_HOUR" default:"0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
