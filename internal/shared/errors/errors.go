package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the gateway's failure taxonomy.
var (
	ErrInvalidCard        = errors.New("invalid card")
	ErrCardExhausted      = errors.New("card exhausted")
	ErrGlobalQuotaReached = errors.New("global quota exhausted")
	ErrQuotaReached       = errors.New("identity quota exhausted")
	ErrNoImageFound       = errors.New("no image found in response")
	ErrConfiguration      = errors.New("configuration error")
	ErrBackend            = errors.New("backend error")
	ErrInternal           = errors.New("internal error")
)

// AppError represents an application error with HTTP status and error code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error.
func NewAppError(code string, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Rejection constructors. Each maps one admission failure to its status.

// InvalidCard rejects an unknown card key.
func InvalidCard(cardID string) *AppError {
	return &AppError{
		Code:       "INVALID_CARD",
		Message:    fmt.Sprintf("card %q is not recognized", cardID),
		StatusCode: http.StatusForbidden,
		Err:        ErrInvalidCard,
	}
}

// CardExhausted rejects a card with no remaining balance.
func CardExhausted(cardID string) *AppError {
	return &AppError{
		Code:       "CARD_EXHAUSTED",
		Message:    fmt.Sprintf("card %q has no remaining balance", cardID),
		StatusCode: http.StatusPaymentRequired,
		Err:        ErrCardExhausted,
	}
}

// GlobalQuotaExhausted rejects when the shared daily ceiling is reached.
func GlobalQuotaExhausted() *AppError {
	return &AppError{
		Code:       "GLOBAL_QUOTA_EXHAUSTED",
		Message:    "the free daily quota for all users has been used up, try again tomorrow",
		StatusCode: http.StatusTooManyRequests,
		Err:        ErrGlobalQuotaReached,
	}
}

// IdentityQuotaExhausted rejects when the caller's own daily ceiling is reached.
func IdentityQuotaExhausted() *AppError {
	return &AppError{
		Code:       "IDENTITY_QUOTA_EXHAUSTED",
		Message:    "your free daily quota has been used up, try again tomorrow",
		StatusCode: http.StatusTooManyRequests,
		Err:        ErrQuotaReached,
	}
}

// Backend passes an upstream failure through with its original status.
func Backend(status int, message string) *AppError {
	if status < 400 {
		status = http.StatusBadGateway
	}
	return &AppError{
		Code:       "BACKEND_ERROR",
		Message:    message,
		StatusCode: status,
		Err:        ErrBackend,
	}
}

// NoImageFound reports an unrecognizable backend response container.
func NoImageFound(details any) *AppError {
	return &AppError{
		Code:       "NO_IMAGE_FOUND",
		Message:    "backend response contained no recognizable image",
		StatusCode: http.StatusInternalServerError,
		Details:    details,
		Err:        ErrNoImageFound,
	}
}

// Configuration reports a fatal server-side misconfiguration.
func Configuration(message string) *AppError {
	return &AppError{
		Code:       "CONFIGURATION_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        ErrConfiguration,
	}
}

// Internal creates an internal error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// Forbidden creates a generic forbidden error.
func Forbidden(message string) *AppError {
	if message == "" {
		message = "access denied"
	}
	return &AppError{
		Code:       "FORBIDDEN",
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

// GetStatusCode returns the appropriate HTTP status code for an error.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidCard):
		return http.StatusForbidden
	case errors.Is(err, ErrCardExhausted):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrGlobalQuotaReached), errors.Is(err, ErrQuotaReached):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrBackend):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
