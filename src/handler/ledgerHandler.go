package handler

import (
	"net/http"
	"strconv"

	"signalgate/src/ledger"
	"signalgate/src/model"
)

type rejectionQuerier interface {
	Query(q ledger.Query) ledger.Page
	Events(analyst model.AnalystID, limit int) []model.AnalystEvent
}

// ListRejectionsHandler pages through the rejection ledger.
// Filters: from, to (RFC3339), account, analyst, rule; cursor: after, limit.
func ListRejectionsHandler(l rejectionQuerier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := ledger.Query{
			AccountID: model.AccountID(r.URL.Query().Get("account")),
			AnalystID: model.AnalystID(r.URL.Query().Get("analyst")),
			RuleID:    model.RuleID(r.URL.Query().Get("rule")),
		}

		from, err := timeParam(r, "from")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if from != nil {
			q.From = *from
		}
		to, err := timeParam(r, "to")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if to != nil {
			q.To = *to
		}

		if after := r.URL.Query().Get("after"); after != "" {
			seq, err := strconv.ParseUint(after, 10, 64)
			if err != nil {
				http.Error(w, "invalid after", http.StatusBadRequest)
				return
			}
			q.AfterSeq = seq
		}
		if q.Limit, err = positiveIntParam(r, "limit", ledger.DefaultLimit); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		writeJSON(w, http.StatusOK, l.Query(q))
	}
}

// ListAnalystEventsHandler returns analyst state changes, newest last.
func ListAnalystEventsHandler(l rejectionQuerier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := positiveIntParam(r, "limit", 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		events := l.Events(model.AnalystID(r.URL.Query().Get("analyst")), limit)
		if events == nil {
			events = []model.AnalystEvent{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}
