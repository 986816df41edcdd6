// Package apperr holds the error classes shared by the upload pipeline.
// Callers classify failures with errors.Is against these sentinels.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks missing storage credentials, bucket or endpoint.
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation marks missing or malformed caller input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an absent object or record.
	ErrNotFound = errors.New("not found")
	// ErrStorage marks an object store round trip that failed for a reason
	// other than a missing object.
	ErrStorage = errors.New("storage error")
	// ErrSchemaMismatch marks a statement that referenced a column or table
	// the deployed schema does not have. It never leaves the parent linker.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// Configuration wraps ErrConfiguration with a formatted message.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Validation wraps ErrValidation with a formatted message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with a formatted message.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Storage wraps an object store failure.
func Storage(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// SchemaMismatch wraps the driver error so both classifications survive.
func SchemaMismatch(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrSchemaMismatch, err)
}
