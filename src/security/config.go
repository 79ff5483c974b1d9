package security

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// SigningSecret signs outbound orders and authenticates fill callbacks.
	// Empty disables both.
	SigningSecret string        `envconfig:"EXECUTION_SIGNING_SECRET" default:""`
	MaxSkew       time.Duration `envconfig:"EXECUTION_SIGNATURE_MAX_SKEW" default:"5m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
