package service

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenMissing       = errors.New("refresh token required")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidSignature   = errors.New("invalid token signature")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("permission denied")
	ErrNotFound           = errors.New("not found")
)

var emailRegexp = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$")

// ValidationError collects input problems keyed by field name.
type ValidationError struct {
	Fields map[string][]string
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

// Add records msg under key.
func (v *ValidationError) Add(key, msg string) {
	v.Fields[key] = append(v.Fields[key], msg)
}

// Check records msg under key unless cond holds.
func (v *ValidationError) Check(cond bool, key, msg string) {
	if !cond {
		v.Add(key, msg)
	}
}

func (v *ValidationError) HasErrors() bool {
	return len(v.Fields) != 0
}

// Err returns v as an error, or nil when nothing was recorded.
func (v *ValidationError) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for key := range v.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, strings.Join(v.Fields[key], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// fieldError is shorthand for a ValidationError with a single message.
func fieldError(key, msg string) *ValidationError {
	v := newValidationError()
	v.Add(key, msg)
	return v
}
