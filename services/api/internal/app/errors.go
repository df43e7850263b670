package app

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not match.
	// This message is intended to be shown to end users and should not enable account enumeration.
	ErrInvalidCredentials = errors.New("Incorrect email address or password")

	// ErrUserDisabled is returned when an account is disabled.
	// Handlers should generally NOT expose this to clients to avoid account enumeration.
	ErrUserDisabled = errors.New("user disabled")

	ErrEmailAlreadyExists = errors.New("email already exists")

	// ErrNoAuthenticatedUser is returned before any query when the context
	// carries no user identity.
	ErrNoAuthenticatedUser = errors.New("no authenticated user")

	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyApplied    = errors.New("already applied to this task")
	ErrAlreadyReviewed   = errors.New("task already reviewed")
	ErrStorageDisabled   = errors.New("object storage not configured")
)

// ValidationError reports per-field input problems.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// validator collects field errors; err returns nil when there are none.
type validator map[string]string

func (v validator) check(ok bool, field, msg string) {
	if ok {
		return
	}
	if _, exists := v[field]; !exists {
		v[field] = msg
	}
}

func (v validator) err() error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Fields: map[string]string(v)}
}
