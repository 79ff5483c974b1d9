package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"signalgate/src/model"
)

type accountReader interface {
	Accounts() []model.AccountState
	Account(id model.AccountID) (model.AccountState, bool)
}

func ListAccountsHandler(accounts accountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, accounts.Accounts())
	}
}

func GetAccountHandler(accounts accountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, ok := accounts.Account(model.AccountID(chi.URLParam(r, "id")))
		if !ok {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}
