package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Mode selects the execution side: dryrun only logs, webhook posts orders.
	Mode       string `envconfig:"EXECUTION_MODE" default:"dryrun"`
	WebhookURL string `envconfig:"EXECUTION_WEBHOOK_URL"`

	RatePerSec   float64       `envconfig:"EXECUTION_RATE_PER_SEC" default:"5"`
	Burst        int           `envconfig:"EXECUTION_BURST" default:"5"`
	Timeout      time.Duration `envconfig:"EXECUTION_TIMEOUT" default:"15s"`
	RetryCount   int           `envconfig:"EXECUTION_RETRY_COUNT" default:"4"`
	RetryWait    time.Duration `envconfig:"EXECUTION_RETRY_WAIT" default:"500ms"`
	RetryMaxWait time.Duration `envconfig:"EXECUTION_RETRY_MAX_WAIT" default:"8s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
