package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalgate/src/controller"
	"signalgate/src/evaluator"
	"signalgate/src/intake"
	"signalgate/src/model"
	"signalgate/src/security"
)

const maxBodyBytes = 1 << 20

type signalSubmitter interface {
	Submit(ctx context.Context, req intake.Request, source string) (evaluator.Verdict, error)
}

type fillApplier interface {
	Fill(ctx context.Context, fill model.FillResult) (model.AccountState, error)
}

// SubmitSignalHandler evaluates one signal and answers with its verdict.
// Approved and rule-rejected signals are 200; signals refused before the
// rules ran (malformed, unknown analyst) are 422 with the recorded verdict.
func SubmitSignalHandler(sub signalSubmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req intake.Request
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			logger.WithError(err).Warn("invalid signal payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		verdict, err := sub.Submit(r.Context(), req, controller.SourceHTTP)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, verdict)
		case errors.Is(err, model.ErrMalformedSignal), errors.Is(err, model.ErrUnknownAnalyst):
			writeJSON(w, http.StatusUnprocessableEntity, verdict)
		case errors.Is(err, model.ErrUnknownAccount):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			logger.WithError(err).Error("failed to evaluate signal")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
}

// FillHandler is the execution side's callback. With a secret configured
// the body must carry a valid signature.
func FillHandler(f fillApplier, secret string, maxSkew time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		if secret != "" {
			if err := security.Verify(
				secret,
				r.Header.Get(security.HeaderTimestamp),
				r.Header.Get(security.HeaderSignature),
				body,
				time.Now(),
				maxSkew,
			); err != nil {
				logger.WithError(err).Warn("fill callback rejected")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		var fill model.FillResult
		if err := json.Unmarshal(body, &fill); err != nil {
			logger.WithError(err).Warn("invalid fill payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		state, err := f.Fill(r.Context(), fill)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, state)
		case errors.Is(err, model.ErrUnknownSignal), errors.Is(err, model.ErrUnknownAccount):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, model.ErrMalformedSettlement):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, model.ErrDuplicateSettlement):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			logger.WithError(err).WithField("fill_id", fill.FillID).Error("failed to apply fill")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
}
