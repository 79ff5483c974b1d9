package handler

import (
	"context"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"signalgate/src/model"
)

type exceptionFinder interface {
	FindRecent(ctx context.Context, module string, limit int) ([]model.Exception, error)
}

// ListExceptionsHandler returns recent system exceptions, optionally for one module.
func ListExceptionsHandler(repo exceptionFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := positiveIntParam(r, "limit", 50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		found, err := repo.FindRecent(r.Context(), r.URL.Query().Get("module"), limit)
		if err != nil {
			logger.WithError(err).Error("failed to load exceptions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if found == nil {
			found = []model.Exception{}
		}
		writeJSON(w, http.StatusOK, found)
	}
}
