// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package apperr defines the centralized error taxonomy for the release pipeline.

It provides a rich error type that tells the orchestrator two things about any
failure bubbling up from a component: what kind of failure it is, and whether the
run can continue.

Architecture:

  - AppError: A struct containing a machine-readable Code, a message and the Cause.
  - Fatal: Errors marked fatal terminate the run; all others are counted and skipped.
  - Mapping: Every component wraps its failures with one of the constructors below.

Every error that leaves a pipeline component should be an [AppError] so the run
report can classify it.
*/
package apperr

import (
	"errors"
	"fmt"
)

// # Error Codes

const (
	CodeRateLimitTimeout = "RATE_LIMIT_TIMEOUT"
	CodeCollection       = "COLLECTION_ERROR"
	CodeFeedFetch        = "FEED_FETCH_ERROR"
	CodePersistence      = "PERSISTENCE_ERROR"
	CodeDispatch         = "DISPATCH_ERROR"
	CodeValidation       = "VALIDATION_ERROR"
)

// AppError is the canonical error type for the pipeline.
//
// # Fatality
//
// Fatal errors abort the run at the stage they surface in. Non-fatal errors are
// accumulated into the run report and never raised past their owning component.
type AppError struct {
	// Code is a machine-readable error identifier (e.g. "COLLECTION_ERROR").
	Code string
	// Message is a human-readable description of what failed.
	Message string
	// Fatal reports whether the run must stop.
	Fatal bool
	// Cause is the underlying error.
	Cause error
	// Details holds per-field validation errors for VALIDATION_ERROR.
	Details []FieldError
}

// FieldError represents a single field-level validation failure.
type FieldError struct {
	// Field is the candidate field name that failed validation.
	Field string
	// Message is the human-readable description of the failure.
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return e.Code + ": " + e.Message
}

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
func (e *AppError) Unwrap() error { return e.Cause }

// # Constructors

// RateLimitTimeout reports that a caller deadline expired while waiting for a
// rate limiter slot. The caller backs off to the next scheduled run.
func RateLimitTimeout(limiter string, cause error) *AppError {
	return &AppError{
		Code:    CodeRateLimitTimeout,
		Message: "deadline exceeded waiting for " + limiter,
		Fatal:   true,
		Cause:   cause,
	}
}

// Collection reports a non-retryable upstream failure of the metadata API.
//
// Example:
//
//	apperr.Collection("page 3 rejected", err) // aborts the run
func Collection(msg string, cause error) *AppError {
	return &AppError{
		Code:    CodeCollection,
		Message: msg,
		Fatal:   true,
		Cause:   cause,
	}
}

// FeedFetch reports that one feed could not be fetched or parsed.
func FeedFetch(feed string, cause error) *AppError {
	return &AppError{
		Code:    CodeFeedFetch,
		Message: "feed " + feed + " unavailable",
		Cause:   cause,
	}
}

// Persistence reports that the storage layer is unavailable or rejected a write.
// A release is never silently dropped: the run stops instead.
func Persistence(action string, cause error) *AppError {
	return &AppError{
		Code:    CodePersistence,
		Message: action,
		Fatal:   true,
		Cause:   cause,
	}
}

// Dispatch reports a failed delivery attempt for one (release, channel) pair.
func Dispatch(channel string, cause error) *AppError {
	return &AppError{
		Code:    CodeDispatch,
		Message: channel + " delivery failed",
		Cause:   cause,
	}
}

// ValidationError creates a non-fatal [AppError] with optional per-field details.
func ValidationError(msg string, details ...FieldError) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: msg,
		Details: details,
	}
}

// # Helpers

// IsAppError reports whether err (or any error in its chain) is an [*AppError].
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// As extracts the [*AppError] from err's chain. It returns nil if not found.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// HasCode reports whether err carries an [*AppError] with the given code.
func HasCode(err error, code string) bool {
	ae := As(err)
	return ae != nil && ae.Code == code
}

// IsFatal reports whether err must abort the run.
//
// Errors outside the taxonomy are treated as fatal: an unclassified failure is a
// bug, and stopping is safer than dispatching on top of it.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	ae := As(err)
	if ae == nil {
		return true
	}
	return ae.Fatal
}
