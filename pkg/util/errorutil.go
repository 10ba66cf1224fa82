package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

// NewTransient wraps a channel-send failure that may succeed on a later
// attempt. The scheduler marks the job failed without retrying; retry
// policy is a queue-level concern.
func NewTransient(message string, err error) error {
	return &DomainError{
		Code:       "TRANSIENT_CHANNEL_FAILURE",
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewIntegrityError flags a data-integrity violation (duplicate contact,
// missing required reference) that must surface to the caller untouched.
func NewIntegrityError(message string, details map[string]any) error {
	return NewDomainError("DATA_INTEGRITY", message, http.StatusConflict, details)
}

// NewStaleState flags an attempt to act on an entity whose persisted state
// moved underneath the caller.
func NewStaleState(message string, details map[string]any) error {
	return NewDomainError("STALE_STATE", message, http.StatusConflict, details)
}

// NewConfigError flags invalid tenant or schedule configuration. It fails
// only the entity involved, never the batch.
func NewConfigError(message string, details map[string]any) error {
	return NewDomainError("CONFIG_INVALID", message, http.StatusUnprocessableEntity, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsTransient reports whether err is a transient channel failure.
func IsTransient(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Code == "TRANSIENT_CHANNEL_FAILURE"
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// MapError converts err for callers that hold it as the error interface.
// A nil input must come back as untyped nil; converting it first would
// wrap a nil *DomainError in a non-nil interface.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}
