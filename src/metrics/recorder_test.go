package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_Counts(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordVerdict(true, "", 0.001)
	r.RecordVerdict(false, "DailyLossLimit", 0.001)
	r.RecordVerdict(false, "DailyLossLimit", 0.002)
	r.RecordLedgerFailure("rejection")
	r.RecordAccount("acct-1", 50000, -450)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.verdicts.WithLabelValues("approved", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.verdicts.WithLabelValues("rejected", "DailyLossLimit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ledgerFailures.WithLabelValues("rejection")))
	assert.Equal(t, -450.0, testutil.ToFloat64(r.dailyPnL.WithLabelValues("acct-1")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.RecordVerdict(true, "", 0)
	r.RecordSettlement("win")
	r.RecordAutoDisabled()
	r.RecordHTTP("/signals", "POST", "200", 0.1)
	assert.NotNil(t, r.Gatherer())
}

func TestRecorder_SeparateRegistries(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())
	a.RecordAutoDisabled()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.autoDisabled))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.autoDisabled))
}
