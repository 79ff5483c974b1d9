package intake

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	KafkaBrokers []string      `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic   string        `envconfig:"KAFKA_TOPIC" default:"analyst-signals"`
	KafkaGroupID string        `envconfig:"KAFKA_GROUP_ID" default:"signalgate"`
	KafkaMaxWait time.Duration `envconfig:"KAFKA_MAX_WAIT" default:"1s"`
	// A message whose handler keeps failing is logged and committed after
	// KafkaRetryMax further attempts.
	KafkaRetryMax int           `envconfig:"KAFKA_RETRY_MAX" default:"3"`
	KafkaBackoff  time.Duration `envconfig:"KAFKA_BACKOFF" default:"200ms"`
	// Account used when a signal does not name one.
	DefaultAccount string `envconfig:"ACCOUNT_ID" default:"default"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
