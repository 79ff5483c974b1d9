package handler

import (
	"context"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"signalgate/src/model"
	"signalgate/src/repository"
)

type orderSearcher interface {
	Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.ApprovedOrder, error)
}

// SearchOrdersHandler lists approved orders, newest first.
// Supports pagination and filters (account, analyst, symbol, status, createdFrom, createdTo).
func SearchOrdersHandler(repo orderSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var symbol *string
		if symbolParam := r.URL.Query().Get("symbol"); symbolParam != "" {
			symbol = &symbolParam
		}

		var status *string
		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			status = &statusParam
		}

		createdFrom, err := timeParam(r, "createdFrom")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		createdTo, err := timeParam(r, "createdTo")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		page, err := positiveIntParam(r, "page", 1)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		pageSize, err := positiveIntParam(r, "pageSize", 20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		offset := (page - 1) * pageSize

		orders, err := repo.Search(r.Context(), repository.OrderSearchOptions{
			AccountID:     model.AccountID(r.URL.Query().Get("account")),
			AnalystID:     model.AnalystID(r.URL.Query().Get("analyst")),
			Symbol:        symbol,
			Status:        status,
			CreatedAfter:  createdFrom,
			CreatedBefore: createdTo,
			Limit:         pageSize,
			Offset:        offset,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search orders")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if orders == nil {
			orders = []model.ApprovedOrder{}
		}

		writeJSON(w, http.StatusOK, orders)
	}
}
