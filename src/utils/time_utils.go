package utils

import (
	"time"

	logger "github.com/sirupsen/logrus"
)

const DayLayout = "2006-01-02"

// ResetTime resets the time component based on the granularity specified.
// Pass "minute" to reset seconds to zero.
// Pass "hour" to reset minutes and seconds to zero.
func ResetTime(t time.Time, granularity string) time.Time {
	switch granularity {
	case "minute":
		return t.Truncate(time.Minute)
	case "hour":
		return t.Truncate(time.Hour)
	default:
		logger.WithField("granularity", granularity).Warn("invalid granularity, use 'minute' or 'hour'")
		return t
	}
}

// LoadLocation falls back to UTC when the zone database is unavailable.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.WithError(err).WithField("tz", name).Warn("failed to load location, using UTC")
		return time.UTC
	}
	return loc
}

// TradingDay returns the YYYY-MM-DD key of the trading day t belongs to.
// A day starts at rolloverHour in loc, so with rolloverHour=17 Monday 18:00
// already belongs to Tuesday.
func TradingDay(t time.Time, loc *time.Location, rolloverHour int) string {
	local := t.In(loc)
	if rolloverHour > 0 && local.Hour() >= rolloverHour {
		local = local.AddDate(0, 0, 1)
	}
	return local.Format(DayLayout)
}

// NextRollover returns the first instant after t at which a new trading day begins.
func NextRollover(t time.Time, loc *time.Location, rolloverHour int) time.Time {
	local := t.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), rolloverHour, 0, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, rolloverHour, 0, 0, 0, loc)
	}
	return next
}

// DayStart returns the instant the trading day containing t began.
func DayStart(t time.Time, loc *time.Location, rolloverHour int) time.Time {
	next := NextRollover(t, loc, rolloverHour)
	return time.Date(next.Year(), next.Month(), next.Day()-1, rolloverHour, 0, 0, 0, loc)
}
