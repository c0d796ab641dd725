// Package errs defines the error taxonomy shared by the store, the engines
// and the transport layers.
package errs

import (
	"errors"
	"fmt"
)

// NotFoundError reports that a referenced record does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ConflictError reports that a guarded write was rejected because the
// record no longer matched the state the caller acted on.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// StoreError wraps an opaque storage or transport failure.
type StoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store error (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("store error (%s): %s: %v", e.Code, e.Message, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func Conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsStore reports whether err is or wraps a StoreError.
func IsStore(err error) bool {
	var target *StoreError
	return errors.As(err, &target)
}
