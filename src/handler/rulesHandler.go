package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"

	"signalgate/src/model"
	"signalgate/src/risk"
)

type ruleReader interface {
	Rules() risk.RuleSet
}

type ruleSwapper interface {
	ruleReader
	SwapRules(next risk.RuleSet, baseVersion uint64) (risk.RuleSet, error)
}

// GetRulesHandler returns the active rule set in the shape PutRulesHandler
// accepts, with base_version set to the active version.
func GetRulesHandler(rules ruleReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, risk.NewView(rules.Rules()))
	}
}

// PutRulesHandler replaces the whole rule set from a JSON or YAML document.
// Omitted fields take the dashboard defaults. A stale base_version is 409.
func PutRulesHandler(rules ruleSwapper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		var doc risk.Document
		if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
			doc, err = risk.ParseYAML(body)
		} else {
			err = json.Unmarshal(body, &doc)
		}
		if err != nil {
			logger.WithError(err).Warn("invalid rules payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		next, err := doc.RuleSet()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		swapped, err := rules.SwapRules(next, doc.BaseVersion)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, risk.NewView(swapped))
		case errors.Is(err, model.ErrConfigurationConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
}
