package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the gateway's Prometheus collectors. A nil *Recorder is a
// valid no-op so components can run without metrics in tests.
type Recorder struct {
	verdicts       *prometheus.CounterVec
	evalLatency    prometheus.Histogram
	ledgerFailures *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	autoDisabled   prometheus.Counter
	dailyPnL       *prometheus.GaugeVec
	equity         *prometheus.GaugeVec
	ruleSetVersion prometheus.Gauge
	dispatches     *prometheus.CounterVec
	intake         *prometheus.CounterVec
	quoteErrors    *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	gatherer       prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_verdicts_total",
			Help: "Verdicts produced, by outcome and violated rule",
		}, []string{"verdict", "rule"}),
		evalLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalgate_evaluation_duration_seconds",
			Help:    "Time spent evaluating one signal",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		ledgerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_ledger_write_failures_total",
			Help: "Ledger writes that failed to reach durable storage",
		}, []string{"kind"}),
		settlements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_settlements_total",
			Help: "Settlements recorded, by outcome",
		}, []string{"outcome"}),
		autoDisabled: f.NewCounter(prometheus.CounterOpts{
			Name: "signalgate_analysts_auto_disabled_total",
			Help: "Analysts disabled by the tracker",
		}),
		dailyPnL: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalgate_account_daily_pnl",
			Help: "Realized P&L for the current trading day",
		}, []string{"account"}),
		equity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalgate_account_equity",
			Help: "Current account equity",
		}, []string{"account"}),
		ruleSetVersion: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalgate_rule_set_version",
			Help: "Version of the active risk rule set",
		}),
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_order_dispatches_total",
			Help: "Approved orders handed to the execution side",
		}, []string{"sink", "status"}),
		intake: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_intake_signals_total",
			Help: "Signals received at the intake boundary",
		}, []string{"source", "status"}),
		quoteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalgate_quote_errors_total",
			Help: "Failures fetching market quotes",
		}, []string{"symbol"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		gatherer: reg,
	}
}

// Gatherer exposes the registry for the /metrics handler.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.DefaultGatherer
	}
	return r.gatherer
}

func (r *Recorder) RecordVerdict(approved bool, rule string, seconds float64) {
	if r == nil {
		return
	}
	verdict := "rejected"
	if approved {
		verdict = "approved"
	}
	r.verdicts.WithLabelValues(verdict, rule).Inc()
	r.evalLatency.Observe(seconds)
}

func (r *Recorder) RecordLedgerFailure(kind string) {
	if r == nil {
		return
	}
	r.ledgerFailures.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordSettlement(outcome string) {
	if r == nil {
		return
	}
	r.settlements.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordAutoDisabled() {
	if r == nil {
		return
	}
	r.autoDisabled.Inc()
}

// RecordAccount publishes the account's equity and day P&L.
func (r *Recorder) RecordAccount(account string, equity, dailyPnL float64) {
	if r == nil {
		return
	}
	r.equity.WithLabelValues(account).Set(equity)
	r.dailyPnL.WithLabelValues(account).Set(dailyPnL)
}

func (r *Recorder) RecordRuleSetVersion(v uint64) {
	if r == nil {
		return
	}
	r.ruleSetVersion.Set(float64(v))
}

func (r *Recorder) RecordDispatch(sink, status string) {
	if r == nil {
		return
	}
	r.dispatches.WithLabelValues(sink, status).Inc()
}

func (r *Recorder) RecordIntake(source, status string) {
	if r == nil {
		return
	}
	r.intake.WithLabelValues(source, status).Inc()
}

func (r *Recorder) RecordQuoteError(symbol string) {
	if r == nil {
		return
	}
	r.quoteErrors.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordHTTP(route, method, status string, seconds float64) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, status).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(seconds)
}
