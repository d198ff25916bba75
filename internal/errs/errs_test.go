package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrappersPreserveSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"unauthenticated", Unauthenticatedf("token expired"), ErrUnauthenticated},
		{"forbidden", Forbiddenf("user %s is not the admin", "u1"), ErrForbidden},
		{"not_found", NotFoundf("conversation %s", "c1"), ErrNotFound},
		{"validation", Validationf("content is empty"), ErrValidation},
		{"conflict", Conflictf("direct conversation already exists"), ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.sentinel)
			}
		})
	}
}

func TestWrappersKeepDetail(t *testing.T) {
	err := Forbiddenf("user %s is not the admin", "u42")
	want := "forbidden: user u42 is not the admin"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrUnauthenticated, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{ErrValidation, http.StatusUnprocessableEntity},
		{ErrConflict, http.StatusConflict},
		{ErrUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
		// Wrapped errors map the same as their sentinel.
		{fmt.Errorf("outer: %w", ErrNotFound), http.StatusNotFound},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestCode(t *testing.T) {
	if got := Code(Validationf("bad input")); got != "validation" {
		t.Errorf("Code() = %q, want %q", got, "validation")
	}
	if got := Code(errors.New("boom")); got != "internal" {
		t.Errorf("Code() = %q, want %q", got, "internal")
	}
}
