// Package apperr is the error taxonomy shared by every layer.
//
// Layer sentinels wrap one of the kinds below, so callers at the boundary
// only need errors.Is against this package to pick a status and a reason.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream")
)

// New returns a sentinel named msg that matches kind under errors.Is.
func New(kind error, msg string) error {
	return fmt.Errorf("%s: %w", msg, kind)
}

// Invalid wraps a field-level validation failure.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Reason is the short machine readable string returned to callers.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch Reason(err) {
	case "":
		return http.StatusOK
	case "not_found":
		return http.StatusNotFound
	case "invalid_input":
		return http.StatusBadRequest
	case "conflict":
		return http.StatusConflict
	case "unauthorized":
		return http.StatusUnauthorized
	case "upstream":
		return http.StatusBadGateway
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err is the caller's fault.
func IsClientError(err error) bool {
	s := HTTPStatus(err)
	return s >= 400 && s < 500
}
