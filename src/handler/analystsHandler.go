package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"signalgate/src/model"
	"signalgate/src/registry"
)

type analystDirectory interface {
	List(includeRemoved bool) []model.Analyst
	Get(id model.AnalystID) (model.Analyst, bool)
}

type analystAdmin interface {
	Register(ctx context.Context, req registry.RegisterRequest) (model.Analyst, error)
	SetEnabled(ctx context.Context, id model.AnalystID, enabled bool, reason string) (model.Analyst, error)
	Remove(ctx context.Context, id model.AnalystID, reason string) (model.Analyst, error)
}

type settlementFinder interface {
	FindByAnalyst(ctx context.Context, analystID model.AnalystID, limit int) ([]model.Settlement, error)
}

// AnalystDetail is an analyst with its most recent settlements.
type AnalystDetail struct {
	model.Analyst
	RecentSettlements []model.Settlement `json:"recent_settlements"`
}

type registerAnalystPayload struct {
	Name      string `json:"name"`
	Source    string `json:"source"`
	SourceRef string `json:"source_ref"`
	Notes     string `json:"notes"`
	Disabled  bool   `json:"disabled"`
}

type setEnabledPayload struct {
	Enabled *bool  `json:"enabled"`
	Reason  string `json:"reason"`
}

// ListAnalystsHandler returns the analytics table. ?removed=true includes
// logically deleted analysts.
func ListAnalystsHandler(dir analystDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, dir.List(r.URL.Query().Get("removed") == "true"))
	}
}

func GetAnalystHandler(dir analystDirectory, settlements settlementFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := model.AnalystID(chi.URLParam(r, "id"))
		a, ok := dir.Get(id)
		if !ok {
			http.Error(w, "analyst not found", http.StatusNotFound)
			return
		}
		limit, err := positiveIntParam(r, "settlements", 20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		detail := AnalystDetail{Analyst: a, RecentSettlements: []model.Settlement{}}
		if settlements != nil {
			recent, err := settlements.FindByAnalyst(r.Context(), id, limit)
			if err != nil {
				logger.WithError(err).WithField("analyst_id", id).Error("failed to load settlements")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if recent != nil {
				detail.RecentSettlements = recent
			}
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func RegisterAnalystHandler(admin analystAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload registerAnalystPayload
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			logger.WithError(err).Warn("invalid analyst payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		source, err := model.ParseAnalystSource(payload.Source)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		a, err := admin.Register(r.Context(), registry.RegisterRequest{
			Name:      payload.Name,
			Source:    source,
			SourceRef: payload.SourceRef,
			Notes:     payload.Notes,
			Disabled:  payload.Disabled,
		})
		if err != nil {
			writeAdminError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

func SetAnalystEnabledHandler(admin analystAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload setEnabledPayload
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil || payload.Enabled == nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		a, err := admin.SetEnabled(r.Context(), model.AnalystID(chi.URLParam(r, "id")), *payload.Enabled, payload.Reason)
		if err != nil {
			writeAdminError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// RemoveAnalystHandler is a logical delete; the analyst's history stays.
func RemoveAnalystHandler(admin analystAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := admin.Remove(r.Context(), model.AnalystID(chi.URLParam(r, "id")), r.URL.Query().Get("reason"))
		if err != nil {
			writeAdminError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrUnknownAnalyst):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrConfigurationConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, registry.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.WithError(err).Error("analyst update failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
