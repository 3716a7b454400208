package common

import "errors"

// Error codes used across the gateway. They map the failure taxonomy onto
// the canonical error envelope.
const (
	CodeAuthentication = "AUTHENTICATION"
	CodeNetwork        = "NETWORK"
	CodeValidation     = "VALIDATION"
	CodeSignature      = "INVALID_SIGNATURE"
	CodeReconciliation = "RECONCILIATION"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// CodeOf returns the attached code when err is an AppError, or the fallback.
func CodeOf(err error, fallback string) string {
	var target *AppError
	if errors.As(err, &target) {
		return target.Code
	}
	return fallback
}
