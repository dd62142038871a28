package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes shared by the HTTP and websocket surfaces
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeBookingNotFound = "BOOKING_NOT_FOUND"
	CodeMessageNotFound = "MESSAGE_NOT_FOUND"
	CodeForbidden       = "FORBIDDEN"
	CodeChatNotAllowed  = "CHAT_NOT_ALLOWED"
	CodeNotParticipant  = "NOT_A_PARTICIPANT"
	CodeTransientIO     = "TRANSIENT_IO"
	CodeUnauthorized    = "AUTH_REQUIRED"
	CodeInternal        = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// NewValidationError creates a 400 error for rejected input
func NewValidationError(message string) *AppError {
	return NewError(http.StatusBadRequest, CodeValidation, message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewUnauthorizedError creates a 401 Unauthorized error
func NewUnauthorizedError(code string, message string) *AppError {
	return NewError(http.StatusUnauthorized, code, message)
}

// NewForbiddenError creates a 403 Forbidden error
func NewForbiddenError(code string, message string) *AppError {
	return NewError(http.StatusForbidden, code, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// NewTooManyRequestsError creates a 429 error
func NewTooManyRequestsError(code string, message string) *AppError {
	return NewError(http.StatusTooManyRequests, code, message)
}

// NewTransientError wraps a persistence or network failure as a 503
func NewTransientError(message string, cause error) *AppError {
	e := NewError(http.StatusServiceUnavailable, CodeTransientIO, message)
	e.cause = cause
	return e
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// As returns the AppError in err's chain, if there is one
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func hasStatus(err error, status int) bool {
	appErr, ok := As(err)
	return ok && appErr.StatusCode == status
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool { return hasStatus(err, http.StatusBadRequest) }

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsForbidden reports whether err is a ForbiddenError
func IsForbidden(err error) bool { return hasStatus(err, http.StatusForbidden) }

// IsTransient reports whether err is a TransientIOError
func IsTransient(err error) bool { return hasStatus(err, http.StatusServiceUnavailable) }
