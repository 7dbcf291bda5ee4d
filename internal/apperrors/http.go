package apperrors

import (
	"errors"
	"net/http"
)

// HTTPStatus maps an error to the appropriate HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrCancelled):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRemoteFailure), errors.Is(err, ErrTransport), errors.Is(err, ErrParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
