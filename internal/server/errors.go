package server

import (
	"errors"
	"net/http"

	"github.com/jonathan/applier/internal/engine"
	"github.com/jonathan/applier/internal/store"
)

// ErrInvalidCredentials indicates a failed operator login.
type ErrInvalidCredentials struct{}

func (e *ErrInvalidCredentials) Error() string {
	return "invalid password"
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return "validation error: " + e.Field + " - " + e.Message
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var invalidCreds *ErrInvalidCredentials
	var validation *ErrValidation
	switch {
	case errors.As(err, &invalidCreds):
		return http.StatusUnauthorized
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrRunNotFound),
		errors.Is(err, store.ErrCheckpointNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrTerminalRun),
		errors.Is(err, store.ErrCheckpointResolved),
		errors.Is(err, engine.ErrNotAwaitingApproval):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidDecision):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
