package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"signalgate/src/ledger"
	"signalgate/src/model"
)

type dayClock interface {
	DayStart(t time.Time) time.Time
}

type statsReader interface {
	Stats(since time.Time) ledger.Stats
}

// Dashboard holds the KPIs shown at the top of the operator dashboard.
type Dashboard struct {
	DailyPnL         decimal.Decimal      `json:"daily_pnl"`
	Equity           decimal.Decimal      `json:"equity"`
	WinRate          float64              `json:"win_rate"`
	ActiveAnalysts   int                  `json:"active_analysts"`
	TotalAnalysts    int                  `json:"total_analysts"`
	RejectionsToday  int                  `json:"rejections_today"`
	RejectionsByRule map[model.RuleID]int `json:"rejections_by_rule"`
	Accounts         []model.AccountState `json:"accounts"`
	GeneratedAt      time.Time            `json:"generated_at"`
}

// DashboardHandler sums P&L and equity across accounts and weights the win
// rate by trade count.
func DashboardHandler(accounts accountReader, analysts analystDirectory, stats statsReader, clock dayClock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		d := Dashboard{
			DailyPnL:    decimal.Zero,
			Equity:      decimal.Zero,
			Accounts:    accounts.Accounts(),
			GeneratedAt: now,
		}
		for _, a := range d.Accounts {
			d.DailyPnL = d.DailyPnL.Add(a.DailyPnL)
			d.Equity = d.Equity.Add(a.Equity)
		}

		var trades, wins int64
		for _, a := range analysts.List(false) {
			d.TotalAnalysts++
			if a.Active() {
				d.ActiveAnalysts++
			}
			trades += a.Trades
			wins += a.Wins
		}
		if trades > 0 {
			d.WinRate = float64(wins) / float64(trades)
		}

		s := stats.Stats(clock.DayStart(now))
		d.RejectionsToday = s.Total
		d.RejectionsByRule = s.ByRule

		writeJSON(w, http.StatusOK, d)
	}
}
