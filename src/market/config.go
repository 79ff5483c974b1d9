package market

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	QuoteSource string        `envconfig:"MARKET_QUOTE_SOURCE" default:"none"` // none | binance
	QuoteAsset  string        `envconfig:"MARKET_QUOTE_ASSET" default:"USDT"`
	Timeout     time.Duration `envconfig:"MARKET_QUOTE_TIMEOUT" default:"5s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
