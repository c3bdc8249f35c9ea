package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrInvalidCredentials ErrorType = "INVALID_CREDENTIALS"
	ErrInvalidSignature   ErrorType = "INVALID_SIGNATURE"
	ErrInvalidToken       ErrorType = "INVALID_OR_EXPIRED_TOKEN"
	ErrRevokedToken       ErrorType = "REVOKED_TOKEN"
	ErrPermissionDenied   ErrorType = "PERMISSION_DENIED"
	ErrRateLimited        ErrorType = "RATE_LIMIT_EXCEEDED"
	ErrSuspiciousActivity ErrorType = "SUSPICIOUS_ACTIVITY"
	ErrNoValidSession     ErrorType = "NO_VALID_SESSION"
	ErrTransactionLimit   ErrorType = "TRANSACTION_LIMIT_EXCEEDED"
	ErrTwoFactorRequired  ErrorType = "TWO_FACTOR_REQUIRED"
	ErrRecentAuthRequired ErrorType = "RECENT_AUTH_REQUIRED"
	ErrUnknownDevice      ErrorType = "UNKNOWN_DEVICE"

	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrLockdown       ErrorType = "LOCKDOWN"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidCredentials, ErrInvalidSignature, ErrInvalidToken, ErrRevokedToken:
		return http.StatusUnauthorized
	case ErrPermissionDenied, ErrSuspiciousActivity, ErrNoValidSession,
		ErrTransactionLimit, ErrTwoFactorRequired, ErrRecentAuthRequired, ErrUnknownDevice:
		return http.StatusForbidden
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrLockdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrInvalidCredentials:
		return "Check the API key and secret."
	case ErrInvalidSignature:
		return "Re-sign the request with a fresh timestamp."
	case ErrInvalidToken, ErrRevokedToken:
		return "Request a new token."
	case ErrRateLimited:
		return "Back off until the window resets."
	case ErrTwoFactorRequired:
		return "Complete two-factor verification and retry."
	case ErrRecentAuthRequired:
		return "Re-authenticate and retry."
	case ErrLockdown:
		return "Wait for lockdown to be lifted."
	default:
		return ""
	}
}
