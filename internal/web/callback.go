package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vitos/credit_line/internal/domain"
	"github.com/vitos/credit_line/internal/usecase"
	"go.uber.org/zap"
)

type callbackResponse struct {
	IntentID string `json:"intent_id"`
	Outcome  string `json:"outcome"`
}

// handleWorkflow serves scheduler deliveries. The status code tells the
// scheduler whether to retry: 503 and 423 are redelivered, everything else is
// terminal.
func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow := r.PathValue("workflow")
	if _, err := domain.ParseIntentKind(workflow); err != nil {
		writeError(w, http.StatusNotFound, "unknown workflow "+workflow)
		return
	}

	var payload usecase.CallbackPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid callback payload")
		return
	}
	if !s.callbacks.VerifySecret(payload.Secret) {
		s.logger.Warn("Callback rejected: bad secret", zap.String("workflow", workflow), zap.String("intent", payload.IntentID))
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if payload.IntentID == "" {
		writeError(w, http.StatusBadRequest, "intentId required")
		return
	}

	// The scheduler may drop the connection; the operation still runs to the end.
	ctx := context.WithoutCancel(r.Context())
	outcome, err := s.callbacks.RunCallback(ctx, payload.IntentID)
	if err != nil {
		status := callbackStatus(err)
		s.logger.Warn("Callback failed",
			zap.String("workflow", workflow),
			zap.String("intent", payload.IntentID),
			zap.Int("status", status),
			zap.Error(err))
		writeError(w, status, err.Error())
		return
	}

	switch outcome {
	case usecase.OutcomeCompleted:
		writeJSON(w, http.StatusOK, callbackResponse{IntentID: payload.IntentID, Outcome: outcome.String()})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func callbackStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrLockContention):
		return http.StatusLocked
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidParameter),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrNoDebt):
		return http.StatusUnprocessableEntity
	}
	return http.StatusServiceUnavailable
}
