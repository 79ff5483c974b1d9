package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalgate/src/evaluator"
	"signalgate/src/intake"
	"signalgate/src/model"
	"signalgate/src/security"
)

type mockSubmitter struct {
	verdict evaluator.Verdict
	err     error
	got     intake.Request
	source  string
}

func (m *mockSubmitter) Submit(_ context.Context, req intake.Request, source string) (evaluator.Verdict, error) {
	m.got = req
	m.source = source
	return m.verdict, m.err
}

type mockFiller struct {
	got   model.FillResult
	err   error
	calls int
}

func (m *mockFiller) Fill(_ context.Context, fill model.FillResult) (model.AccountState, error) {
	m.calls++
	m.got = fill
	return model.AccountState{AccountID: "acct-1"}, m.err
}

func postSignal(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSubmitSignalHandler(t *testing.T) {
	body := `{"id":"s1","analyst_id":"analyst_a","symbol":"BTCUSDT","side":"buy","size":"1"}`

	t.Run("approved", func(t *testing.T) {
		sub := &mockSubmitter{verdict: evaluator.Verdict{SignalID: "s1", Approved: true}}
		rr := postSignal(SubmitSignalHandler(sub), body)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"approved":true`)
		assert.Equal(t, "http", sub.source)
		assert.Equal(t, "BTCUSDT", sub.got.Symbol)
	})

	t.Run("rule rejection is still 200", func(t *testing.T) {
		sub := &mockSubmitter{verdict: evaluator.Verdict{SignalID: "s1", RuleID: model.RuleEquityFloor}}
		rr := postSignal(SubmitSignalHandler(sub), body)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"rule_id":"EquityFloor"`)
	})

	t.Run("malformed is 422 with verdict", func(t *testing.T) {
		sub := &mockSubmitter{
			verdict: evaluator.Verdict{SignalID: "s1", RuleID: model.RuleMalformedSignal},
			err:     fmt.Errorf("%w: symbol failed required", model.ErrMalformedSignal),
		}
		rr := postSignal(SubmitSignalHandler(sub), body)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Contains(t, rr.Body.String(), `"rule_id":"MalformedSignal"`)
	})

	t.Run("unknown account", func(t *testing.T) {
		sub := &mockSubmitter{err: fmt.Errorf("%w: x", model.ErrUnknownAccount)}
		assert.Equal(t, http.StatusNotFound, postSignal(SubmitSignalHandler(sub), body).Code)
	})

	t.Run("bad json", func(t *testing.T) {
		sub := &mockSubmitter{}
		assert.Equal(t, http.StatusBadRequest, postSignal(SubmitSignalHandler(sub), `{"id":`).Code)
		assert.Equal(t, http.StatusBadRequest, postSignal(SubmitSignalHandler(sub), `{"nope":1}`).Code)
	})

	t.Run("unexpected error", func(t *testing.T) {
		sub := &mockSubmitter{err: assert.AnError}
		assert.Equal(t, http.StatusInternalServerError, postSignal(SubmitSignalHandler(sub), body).Code)
	})
}

func signedFill(t *testing.T, secret string, ts time.Time, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/fills", strings.NewReader(body))
	unix := ts.Unix()
	req.Header.Set(security.HeaderTimestamp, strconv.FormatInt(unix, 10))
	req.Header.Set(security.HeaderSignature, security.Sign(secret, unix, []byte(body)))
	return req
}

func TestFillHandler(t *testing.T) {
	body := `{"fill_id":"f1","signal_id":"s1","kind":"close","size":"1","realized_pnl":"-20"}`

	t.Run("signed fill is applied", func(t *testing.T) {
		f := &mockFiller{}
		rr := httptest.NewRecorder()
		FillHandler(f, "secret", time.Minute).ServeHTTP(rr, signedFill(t, "secret", time.Now(), body))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "f1", f.got.FillID)
		assert.True(t, f.got.RealizedPnL.IsNegative())
	})

	t.Run("bad signature", func(t *testing.T) {
		f := &mockFiller{}
		rr := httptest.NewRecorder()
		FillHandler(f, "secret", time.Minute).ServeHTTP(rr, signedFill(t, "other", time.Now(), body))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Zero(t, f.calls)
	})

	t.Run("stale signature", func(t *testing.T) {
		f := &mockFiller{}
		rr := httptest.NewRecorder()
		FillHandler(f, "secret", time.Minute).ServeHTTP(rr, signedFill(t, "secret", time.Now().Add(-time.Hour), body))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unsigned accepted without secret", func(t *testing.T) {
		f := &mockFiller{}
		rr := httptest.NewRecorder()
		FillHandler(f, "", 0).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/fills", strings.NewReader(body)))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unknown signal", fmt.Errorf("%w: s1", model.ErrUnknownSignal), http.StatusNotFound},
		{"malformed", fmt.Errorf("%w: missing fill id", model.ErrMalformedSettlement), http.StatusBadRequest},
		{"duplicate", fmt.Errorf("%w: f1", model.ErrDuplicateSettlement), http.StatusConflict},
		{"store down", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			FillHandler(&mockFiller{err: tc.err}, "", 0).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/fills", strings.NewReader(body)))
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}
