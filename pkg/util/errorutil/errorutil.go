package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes rendered to clients.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeInvalidToken     = "INVALID_TOKEN"
	CodeExpiredToken     = "EXPIRED_TOKEN"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeAccountInactive  = "ACCOUNT_INACTIVE"
	CodeTransient        = "TRANSIENT"
	CodeInternal         = "INTERNAL_ERROR"
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

// FieldError describes a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

// NewValidationError reports rejected input together with every offending field.
func NewValidationError(message string, fields []FieldError) error {
	if fields == nil {
		fields = []FieldError{}
	}
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, map[string]any{"errors": fields})
}

func NewNotFound(message string) error {
	return NewDomainError(CodeNotFound, message, http.StatusNotFound, nil)
}

func NewConflict(message string, fields []FieldError) error {
	var details map[string]any
	if len(fields) > 0 {
		details = map[string]any{"errors": fields}
	}
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInvalidToken(message string) error {
	return NewDomainError(CodeInvalidToken, message, http.StatusNotFound, nil)
}

func NewExpiredToken(message string) error {
	return NewDomainError(CodeExpiredToken, message, http.StatusUnauthorized, nil)
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewAccountInactive(message string) error {
	return NewDomainError(CodeAccountInactive, message, http.StatusForbidden, nil)
}

// NewTransient reports a backend failure that is safe to retry.
func NewTransient(err error) error {
	return &DomainError{
		Code:       CodeTransient,
		Message:    "service temporarily unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
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
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewTransient(err).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

// MapError converts err into a DomainError while keeping the error interface.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}

// HasCode reports whether err carries the given domain error code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}

// FieldErrors returns the field list attached to a validation or conflict error.
func FieldErrors(err error) []FieldError {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Details == nil {
		return nil
	}
	fields, _ := domainErr.Details["errors"].([]FieldError)
	return fields
}
