package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the three failure kinds surfaced to field users.
var (
	ErrValidation           = errors.New("validation error")
	ErrRecommendationFailed = errors.New("recommendation failed")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrNotFound             = errors.New("not found")
)

// FieldError describes a validation problem with a single field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field-level validation problems. It is detected
// locally and is never sent to an external collaborator.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field
	}
	return fmt.Sprintf("validation: %d errors (%s)", len(e.Errors), strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}

// NewValidationErrors creates a ValidationError from multiple field errors.
func NewValidationErrors(errs []FieldError) *ValidationError {
	return &ValidationError{Errors: errs}
}

// RecommendationError reports a failed or malformed text-generation round trip.
type RecommendationError struct {
	Workflow string
	Cause    error
}

func (e *RecommendationError) Error() string {
	return fmt.Sprintf("%s recommendation failed: %v", e.Workflow, e.Cause)
}

// Is matches ErrRecommendationFailed so callers can test with errors.Is.
func (e *RecommendationError) Is(target error) bool { return target == ErrRecommendationFailed }

func (e *RecommendationError) Unwrap() error { return e.Cause }

// StoreError is the structured permission/availability error published by the
// record store on its asynchronous error channel.
type StoreError struct {
	Path          string `json:"path"`
	Operation     string `json:"operation"`
	AttemptedData any    `json:"attemptedData,omitempty"`
	Cause         error  `json:"-"`
}

func (e *StoreError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("store: %s %s rejected", e.Operation, e.Path)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Operation, e.Path, e.Cause)
}

// Is matches ErrStoreUnavailable so callers can test with errors.Is.
func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

func (e *StoreError) Unwrap() error { return e.Cause }
