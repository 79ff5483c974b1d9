package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LoopPeriod time.Duration `envconfig:"LOOP_PERIOD" default:"2s"`
	PollBatch  int           `envconfig:"POLL_BATCH" default:"100"`
	// Start after the newest existing row instead of replaying the table.
	PollFromLatest   bool          `envconfig:"POLL_FROM_LATEST" default:"true"`
	ResetCheckPeriod time.Duration `envconfig:"RESET_CHECK_PERIOD" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
