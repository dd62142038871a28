package errors

import (
	"net/http"
)

// FromError converts a standard error to an AppError
// If the error is already an AppError (anywhere in the chain), it is returned as-is
// Otherwise, it is wrapped as an internal server error
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := As(err); ok {
		return appErr
	}

	appErr := NewInternalServerError(CodeInternal, "An unexpected error occurred")
	appErr.cause = err
	return appErr
}

// GetStatusCode extracts the HTTP status code from an AppError, returns 500 if not an AppError
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetErrorCode extracts the error code from an AppError, returns "UNKNOWN_ERROR" if not an AppError
func GetErrorCode(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorMessage extracts the error message, returns original error message if not an AppError
func GetErrorMessage(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Message
	}
	return err.Error()
}

// FromCode rebuilds an AppError from a code received over the wire, e.g. in a
// websocket error event. Unknown codes are treated as internal errors.
func FromCode(code, message string) *AppError {
	status := http.StatusInternalServerError
	switch code {
	case CodeValidation:
		status = http.StatusBadRequest
	case CodeNotFound, CodeBookingNotFound, CodeMessageNotFound:
		status = http.StatusNotFound
	case CodeForbidden, CodeChatNotAllowed, CodeNotParticipant:
		status = http.StatusForbidden
	case CodeUnauthorized:
		status = http.StatusUnauthorized
	case CodeTransientIO:
		status = http.StatusServiceUnavailable
	}
	return NewError(status, code, message)
}
