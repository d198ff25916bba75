// Package errs defines the error taxonomy shared across the messaging
// engine. Every component classifies failures as one of the sentinel errors
// below; callers use errors.Is to branch and HTTPStatus to translate for the
// REST façade.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated means the credential was missing, malformed, or
	// rejected by the identity service.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the caller is authenticated but not permitted:
	// not a participant, not the sender, not the group admin.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound means the entity does not exist or is invisible to the
	// caller. The two cases are deliberately indistinguishable so that
	// membership cannot be probed.
	ErrNotFound = errors.New("not found")

	// ErrValidation means the input was malformed: empty content, bad
	// participant counts, metadata that does not match the message kind,
	// or an edit outside the allowed window.
	ErrValidation = errors.New("validation failed")

	// ErrConflict means a concurrent write raced and the caller should
	// re-read (e.g. two clients creating the same direct conversation).
	ErrConflict = errors.New("conflict")

	// ErrUnavailable means a backing service (Postgres, identity) could
	// not be reached. Reads may be retried; writes must be resubmitted
	// explicitly by the caller.
	ErrUnavailable = errors.New("unavailable")
)

// Unauthenticatedf, Forbiddenf, NotFoundf, Validationf and Conflictf wrap the
// corresponding sentinel with a formatted detail message, so that
// errors.Is(err, ErrX) still holds on the result.

func Unauthenticatedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrUnauthenticated, args)...)
}

func Forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrForbidden, args)...)
}

func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrNotFound, args)...)
}

func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrValidation, args)...)
}

func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrConflict, args)...)
}

func prepend(first interface{}, rest []interface{}) []interface{} {
	out := make([]interface{}, 0, len(rest)+1)
	out = append(out, first)
	return append(out, rest...)
}

// HTTPStatus maps an error to the HTTP status code the REST façade should
// return. Unclassified errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the short machine-readable code for an error, used in WS
// error frames and REST bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
