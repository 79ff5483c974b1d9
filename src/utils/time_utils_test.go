package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTradingDay(t *testing.T) {
	ny := LoadLocation("America/New_York")
	// 2025-03-04 22:30 UTC is 17:30 in New York.
	at := time.Date(2025, time.March, 4, 22, 30, 0, 0, time.UTC)

	assert.Equal(t, "2025-03-04", TradingDay(at, ny, 0))
	assert.Equal(t, "2025-03-05", TradingDay(at, ny, 17))
	assert.Equal(t, "2025-03-04", TradingDay(at, ny, 18))
	assert.Equal(t, "2025-03-04", TradingDay(at, time.UTC, 0))
}

func TestNextRollover(t *testing.T) {
	at := time.Date(2025, time.March, 4, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC), NextRollover(at, time.UTC, 0))
	assert.Equal(t, time.Date(2025, time.March, 4, 17, 0, 0, 0, time.UTC), NextRollover(at, time.UTC, 17))

	exact := time.Date(2025, time.March, 4, 17, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, time.March, 5, 17, 0, 0, 0, time.UTC), NextRollover(exact, time.UTC, 17))
}

func TestResetTime(t *testing.T) {
	at := time.Date(2025, time.March, 4, 10, 42, 17, 0, time.UTC)
	assert.Equal(t, time.Date(2025, time.March, 4, 10, 42, 0, 0, time.UTC), ResetTime(at, "minute"))
	assert.Equal(t, time.Date(2025, time.March, 4, 10, 0, 0, 0, time.UTC), ResetTime(at, "hour"))
	assert.Equal(t, at, ResetTime(at, "day"))
}

func TestLoadLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, LoadLocation("Not/AZone"))
}

func TestDayStart(t *testing.T) {
	at := time.Date(2025, time.March, 4, 18, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC), DayStart(at, time.UTC, 0))
	assert.Equal(t, time.Date(2025, time.March, 4, 17, 0, 0, 0, time.UTC), DayStart(at, time.UTC, 17))
	assert.Equal(t, time.Date(2025, time.March, 3, 19, 0, 0, 0, time.UTC), DayStart(at, time.UTC, 19))
}
