package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// StatusForKind maps an error kind to the HTTP status of an aggregate response
func StatusForKind(kind types.ErrorKind) int {
	switch kind {
	case "", types.ErrPersistencePartial:
		return http.StatusOK
	case types.ErrInputInvalid:
		return http.StatusBadRequest
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrUpstreamMalformed, types.ErrUpstreamUnavailable:
		return http.StatusBadGateway
	case types.ErrCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var verr *ErrValidation
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	var serr *types.StageError
	if errors.As(err, &serr) {
		return StatusForKind(serr.Kind)
	}
	return http.StatusInternalServerError
}
