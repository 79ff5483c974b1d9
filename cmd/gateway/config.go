package gateway

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Intake channels started next to the HTTP API.
	EnablePoll  bool `envconfig:"INTAKE_POLL" default:"true"`
	EnableKafka bool `envconfig:"INTAKE_KAFKA" default:"false"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
