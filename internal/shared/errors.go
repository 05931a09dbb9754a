package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates an unknown primary key or foreign reference.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a primary-key collision on create.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates bad or missing field input.
	ErrValidation = errors.New("validation failed")
	// ErrPermission indicates a failed role or ownership check.
	ErrPermission = errors.New("insufficient permissions")
	// ErrAuthentication indicates a failed credential check. The message is
	// deliberately generic so callers cannot enumerate accounts.
	ErrAuthentication = errors.New("invalid credentials")
	// ErrTokenExpired indicates an expired bearer token.
	ErrTokenExpired = errors.New("token expired")
	// ErrChallengeFailed indicates a wrong anti-spam challenge answer.
	ErrChallengeFailed = errors.New("challenge failed")
	// ErrWeakCredential indicates a password rejected by the breach check.
	ErrWeakCredential = errors.New("credential found in breach corpus")
	// ErrDirectoryUnavailable indicates a directory transport failure. The
	// operation is safe to retry after re-reading current state.
	ErrDirectoryUnavailable = errors.New("directory unavailable")
)

// FieldErrors collects per-field validation failures for a single write so
// the caller sees every problem at once instead of the first one.
type FieldErrors struct {
	Fields map[string]string
	causes []error
}

// NewFieldErrors returns an empty collector.
func NewFieldErrors() *FieldErrors {
	return &FieldErrors{Fields: make(map[string]string)}
}

// Add records a plain validation failure for a field.
func (e *FieldErrors) Add(field, format string, args ...any) {
	e.AddCause(field, ErrValidation, format, args...)
}

// AddCause records a failure for a field with an explicit sentinel cause,
// e.g. ErrWeakCredential for breached passwords.
func (e *FieldErrors) AddCause(field string, cause error, format string, args ...any) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = fmt.Sprintf(format, args...)
	e.causes = append(e.causes, cause)
}

// Empty reports whether no failures were recorded.
func (e *FieldErrors) Empty() bool { return len(e.Fields) == 0 }

// Err returns the collector as an error, or nil when nothing was recorded.
func (e *FieldErrors) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *FieldErrors) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes every recorded cause, so errors.Is finds both ErrValidation
// and any specific sentinel such as ErrWeakCredential.
func (e *FieldErrors) Unwrap() []error {
	out := make([]error, 0, len(e.causes)+1)
	out = append(out, ErrValidation)
	out = append(out, e.causes...)
	return out
}
