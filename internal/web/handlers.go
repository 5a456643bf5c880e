package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/credit_line/internal/domain"
	"go.uber.org/zap"
)

const (
	ownerHeader     = "X-Owner-Key"
	operatorHeader  = "X-Operator-Secret"
	maxBodyBytes    = 64 << 10
	defaultPageSize = 50
	maxPageSize     = 500
)

type registerWalletRequest struct {
	Address string `json:"address"`
}

type spendingPowerRequest struct {
	DestinationAddress string          `json:"destination_address"`
	Amount             decimal.Decimal `json:"amount"`
	Provider           string          `json:"provider"`
}

type intentAccepted struct {
	IntentID string `json:"intent_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRegisterWallet(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req registerWalletRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wallet, err := s.service.RegisterWallet(r.Context(), owner, req.Address)
	if err != nil {
		s.writeServiceError(w, "register wallet", err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

func (s *Server) handleSpendingPower(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req spendingPowerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.service.RequestSpendingPower(r.Context(), owner, req.DestinationAddress, req.Amount, req.Provider)
	if err != nil {
		s.writeServiceError(w, "spending power", err)
		return
	}
	writeJSON(w, http.StatusAccepted, intentAccepted{IntentID: id})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	id, err := s.service.RequestRepayment(r.Context(), owner)
	if err != nil {
		s.writeServiceError(w, "repay", err)
		return
	}
	writeJSON(w, http.StatusAccepted, intentAccepted{IntentID: id})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.GetPositionSummary(r.Context(), r.PathValue("address"))
	if err != nil {
		s.writeServiceError(w, "position", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	intent, err := s.service.GetIntent(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, "get intent", err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	limit, ok := pageSize(w, r)
	if !ok {
		return
	}
	intents, err := s.service.ListIntents(r.Context(), owner, limit)
	if err != nil {
		s.writeServiceError(w, "list intents", err)
		return
	}
	writeJSON(w, http.StatusOK, intents)
}

func (s *Server) handleStuckIntents(w http.ResponseWriter, r *http.Request) {
	olderThan := s.stuckAfter
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "older_than must be a duration such as 15m")
			return
		}
		olderThan = d
	}
	limit, ok := pageSize(w, r)
	if !ok {
		return
	}
	intents, err := s.service.StuckIntents(r.Context(), olderThan, limit)
	if err != nil {
		s.writeServiceError(w, "stuck intents", err)
		return
	}
	writeJSON(w, http.StatusOK, intents)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	subscribers := 0
	if s.hub != nil {
		subscribers = s.hub.Subscribers()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"subscribers": subscribers,
	})
}

// writeServiceError maps domain errors onto request status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidParameter):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNoDebt):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrLockContention):
		status = http.StatusLocked
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	s.logger.Debug("Request rejected", zap.String("op", op), zap.Int("status", status), zap.Error(err))
	writeError(w, status, err.Error())
}

// requireOperator guards cross-owner listings with the shared callback secret.
func (s *Server) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.callbacks.VerifySecret(r.Header.Get(operatorHeader)) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	}
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(ownerHeader))
	if owner == "" {
		writeError(w, http.StatusUnauthorized, ownerHeader+" header required")
		return "", false
	}
	return owner, true
}

func pageSize(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultPageSize, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if n > maxPageSize {
		n = maxPageSize
	}
	return n, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
