package util

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrTooEarly          = errors.New("too early")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUpstream          = errors.New("upstream error")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
)

// Stable tags returned to clients next to the human-readable message.
const (
	KindNotFound          = "not_found"
	KindForbidden         = "forbidden"
	KindConflict          = "conflict"
	KindTooEarly          = "too_early"
	KindInvalidTransition = "invalid_transition"
	KindUpstream          = "upstream_error"
	KindInvalidInput      = "invalid_input"
	KindUnauthorized      = "unauthorized"
	KindInternal          = "internal"
)

var errorKinds = []struct {
	err    error
	kind   string
	status int
}{
	{ErrNotFound, KindNotFound, http.StatusNotFound},
	{ErrForbidden, KindForbidden, http.StatusForbidden},
	{ErrConflict, KindConflict, http.StatusConflict},
	{ErrTooEarly, KindTooEarly, http.StatusTooEarly},
	{ErrInvalidTransition, KindInvalidTransition, http.StatusBadRequest},
	{ErrUpstream, KindUpstream, http.StatusBadGateway},
	{ErrInvalidInput, KindInvalidInput, http.StatusBadRequest},
	{ErrUnauthorized, KindUnauthorized, http.StatusUnauthorized},
}

// ErrorKind returns the taxonomy tag and HTTP status for err.
func ErrorKind(err error) (string, int) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind, k.status
		}
	}
	return KindInternal, http.StatusInternalServerError
}

// IsRetryableKind reports whether a client may automatically retry after err.
func IsRetryableKind(err error) bool {
	return errors.Is(err, ErrTooEarly) || errors.Is(err, ErrUpstream)
}
