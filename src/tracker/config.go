package tracker

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Smoothing is the EWMA factor in (0,1]. Zero keeps a cumulative average.
	Smoothing   float64 `envconfig:"TRACKER_SMOOTHING" default:"0"`
	EVFloor     float64 `envconfig:"TRACKER_EV_FLOOR" default:"-0.5"`
	FloorStreak int     `envconfig:"TRACKER_FLOOR_STREAK" default:"5"`
	AutoDisable bool    `envconfig:"TRACKER_AUTO_DISABLE" default:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c Config) validate() error {
	if c.Smoothing < 0 || c.Smoothing > 1 {
		return fmt.Errorf("tracker smoothing must be in [0,1], got %v", c.Smoothing)
	}
	if c.FloorStreak < 1 {
		return fmt.Errorf("tracker floor streak must be at least 1, got %d", c.FloorStreak)
	}
	return nil
}
