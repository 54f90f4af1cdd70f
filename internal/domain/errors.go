package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnauthenticated         = errors.New("unauthenticated")
	ErrForbidden               = errors.New("forbidden")
	ErrNotFound                = errors.New("not_found")
	ErrNotParticipant          = errors.New("not_participant")
	ErrInvalidGameType         = errors.New("invalid_game_type")
	ErrWeightClassMismatch     = errors.New("weight_class_mismatch")
	ErrSelfJoin                = errors.New("self_join")
	ErrMatchFull               = errors.New("match_full")
	ErrMatchNotActive          = errors.New("match_not_active")
	ErrMatchNotPending         = errors.New("match_not_pending")
	ErrRoundMismatch           = errors.New("round_mismatch")
	ErrDuplicateSubmission     = errors.New("duplicate_submission")
	ErrConflict                = errors.New("conflict")
	ErrCollaboratorUnavailable = errors.New("collaborator_unavailable")
	ErrValidation              = errors.New("validation")
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}

// Unavailable marks err as a collaborator failure while keeping the cause in
// the chain for logging.
func Unavailable(what string, err error) error {
	return fmt.Errorf("%s: %w: %w", what, ErrCollaboratorUnavailable, err)
}
