// Package apperr holds the error kinds shared by the booking core and the HTTP
// surface. Callers wrap a kind with fmt.Errorf("%w: ...") and test with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalid          = errors.New("invalid input")
	ErrConflict         = errors.New("invalid state transition")
	ErrUnavailable      = errors.New("service unavailable")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrSignatureInvalid = errors.New("signature verification failed")
)

// ErrSkipWrite is returned from a Mutate callback to leave the record untouched.
// Stores treat it as success and return the current record.
var ErrSkipWrite = errors.New("skip write")

// HTTPStatus maps an error to the response code the API returns for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrSignatureInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
