package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNetwork covers retryable transport failures (timeouts, 5xx, open breaker).
	ErrNetwork = errors.New("network error")
	// ErrAuthExpired is fatal for the session; the auth collaborator must log out.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrConflict means the operation was already applied server-side.
	ErrConflict = errors.New("already applied")
	ErrNotFound = errors.New("not found")
	// ErrValidation means bad local input; no state was mutated.
	ErrValidation = errors.New("validation failed")
)

// FromStatus maps an HTTP status code to an error kind. 2xx maps to nil.
func FromStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return ErrAuthExpired
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusConflict:
		return ErrConflict
	case code >= 400 && code < 500:
		return ErrValidation
	default:
		return ErrNetwork
	}
}

// Retryable reports whether err is worth retrying on a backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// AlreadyApplied reports whether err means the target state already holds
// (duplicate accept, unliking something removed). Callers treat it as success.
func AlreadyApplied(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound)
}

// Wrapf attaches context to a kind while keeping errors.Is on the kind working.
func Wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, kind)...)
}
