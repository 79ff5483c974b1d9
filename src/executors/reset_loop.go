package executors

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Resetter rolls accounts into the current trading day. Implemented by
// evaluator.Evaluator.
type Resetter interface {
	ResetDue(ctx context.Context, now time.Time) int
}

// StartResetLoop checks for a trading-day rollover every period. The first
// check runs immediately so a restart after midnight catches up.
func StartResetLoop(ctx context.Context, r Resetter, period time.Duration, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	check := func() {
		if n := r.ResetDue(ctx, now()); n > 0 {
			logger.WithField("accounts", n).Info("daily reset applied")
		}
	}
	check()

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
