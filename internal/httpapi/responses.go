package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"AgentArena/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message}})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteDomainError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "validation_error", Message: "invalid request", Fields: ve.Fields}})
	case errors.Is(err, domain.ErrValidation):
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid request")
	case errors.Is(err, domain.ErrInvalidGameType):
		WriteError(w, http.StatusBadRequest, "invalid_game_type", "unknown game type")
	case errors.Is(err, domain.ErrUnauthenticated):
		WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid api key")
	case errors.Is(err, domain.ErrForbidden):
		WriteError(w, http.StatusForbidden, "forbidden", "forbidden")
	case errors.Is(err, domain.ErrNotParticipant):
		WriteError(w, http.StatusForbidden, "not_participant", "agent is not a participant in this match")
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrWeightClassMismatch):
		WriteError(w, http.StatusConflict, "weight_class_mismatch", "agent weight class does not match")
	case errors.Is(err, domain.ErrSelfJoin):
		WriteError(w, http.StatusConflict, "self_join", "agent already in this match")
	case errors.Is(err, domain.ErrMatchFull):
		WriteError(w, http.StatusConflict, "match_full", "match is full")
	case errors.Is(err, domain.ErrMatchNotActive):
		WriteError(w, http.StatusConflict, "match_not_active", "match is not in progress")
	case errors.Is(err, domain.ErrMatchNotPending):
		WriteError(w, http.StatusConflict, "match_not_pending", "match is no longer pending")
	case errors.Is(err, domain.ErrRoundMismatch):
		WriteError(w, http.StatusConflict, "round_mismatch", "round is not the current round")
	case errors.Is(err, domain.ErrDuplicateSubmission):
		WriteError(w, http.StatusConflict, "duplicate_submission", "a different answer was already submitted for this round")
	case errors.Is(err, domain.ErrConflict):
		WriteError(w, http.StatusConflict, "conflict", "concurrent update, retry")
	case errors.Is(err, domain.ErrCollaboratorUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "collaborator_unavailable", "upstream service unavailable")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// fail logs errors that map to 5xx and writes the error response.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrCollaboratorUnavailable) || !isDomainError(err) {
		fields := []any{"err", err, "method", r.Method, "path", r.URL.Path}
		if rid, ok := GetRequestID(r.Context()); ok {
			fields = append(fields, "request_id", rid)
		}
		a.log().Error("request failed", fields...)
	}
	WriteDomainError(w, err)
}

func (a *api) log() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.Default()
}

var domainErrors = []error{
	domain.ErrValidation,
	domain.ErrInvalidGameType,
	domain.ErrUnauthenticated,
	domain.ErrForbidden,
	domain.ErrNotParticipant,
	domain.ErrNotFound,
	domain.ErrWeightClassMismatch,
	domain.ErrSelfJoin,
	domain.ErrMatchFull,
	domain.ErrMatchNotActive,
	domain.ErrMatchNotPending,
	domain.ErrRoundMismatch,
	domain.ErrDuplicateSubmission,
	domain.ErrConflict,
	domain.ErrCollaboratorUnavailable,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
