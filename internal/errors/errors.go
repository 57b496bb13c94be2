// Package errors consolidates error definitions for the histkv adapter.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Convenience aliases for errors.Is / errors.As
package errors

import (
	"errors"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Configuration errors - fail adapter construction, non-retryable.
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrMissingProperty     = errors.New("missing required property")
	ErrPrefixMismatch      = errors.New("key prefix mismatch")
	ErrCredentialsUnpaired = errors.New("username and password must be set together")
	ErrUnknownOnClosure    = errors.New("unsupported on_closure value")
	ErrStoreMissing        = errors.New("store does not exist and creation is disabled")

	// Validation errors - reject a single event, do not affect others.
	ErrMissingValue = errors.New("put without value")
	ErrInvalidKey   = errors.New("invalid key")

	// Unsupported operations.
	ErrUnsupportedPatch = errors.New("patch operations are not supported")

	// Store errors.
	ErrStoreClosed = errors.New("store is closed")

	// Decode errors - a single query result row is skipped.
	ErrDecode = errors.New("decode error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsConfig returns true if err is a configuration error.
func IsConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingProperty) ||
		errors.Is(err, ErrPrefixMismatch) ||
		errors.Is(err, ErrCredentialsUnpaired) ||
		errors.Is(err, ErrUnknownOnClosure) ||
		errors.Is(err, ErrStoreMissing)
}

// IsValidation returns true if err rejects a single event without
// affecting the rest of the stream.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingValue) ||
		errors.Is(err, ErrInvalidKey)
}

// IsDecode returns true if err is a per-row decode error.
func IsDecode(err error) bool {
	return errors.Is(err, ErrDecode)
}
