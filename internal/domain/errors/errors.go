package errors

import (
	"errors"
	"fmt"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeBusiness           ErrorType = "business"
	ErrorTypeInternal           ErrorType = "internal"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeConflict           ErrorType = "conflict"
	ErrorTypeProviderTransient  ErrorType = "provider_transient"
	ErrorTypeProviderPermanent  ErrorType = "provider_permanent"
	ErrorTypePersistenceFailure ErrorType = "persistence_failure"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONFLICT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// NewProviderTransientError marks a provider failure that the sync
// orchestrator may retry: rate limits, timeouts, partial outages.
func NewProviderTransientError(provider, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeProviderTransient,
		Code:       "PROVIDER_TRANSIENT",
		Message:    fmt.Sprintf("%s: %s", provider, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"provider": provider},
	}
}

// NewProviderPermanentError marks a provider failure that retrying cannot
// fix: revoked credentials, unsupported API versions. The integration is
// put into error state until an operator intervenes.
func NewProviderPermanentError(provider, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeProviderPermanent,
		Code:       "PROVIDER_PERMANENT",
		Message:    fmt.Sprintf("%s: %s", provider, message),
		Retryable:  false,
		StatusCode: 502,
		Details:    map[string]interface{}{"provider": provider},
	}
}

// NewPersistenceError marks a failed control-update-plus-history-append
// transaction. The sync pass for that control is treated as not having
// happened.
func NewPersistenceError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypePersistenceFailure,
		Code:       "PERSISTENCE_FAILURE",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewRateLimitError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeProviderTransient,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    message,
		Retryable:  true,
		StatusCode: 429,
	}
}

// Predefined common errors
var (
	ErrInvalidInput        = NewValidationError("INVALID_INPUT", "Invalid input provided")
	ErrControlNotFound     = NewNotFoundError("control")
	ErrControlDeleted      = NewBusinessError("CONTROL_DELETED", "Control has been deleted")
	ErrSyncInFlight        = NewConflictError("Sync already in progress for this integration")
	ErrIntegrationBroken   = NewBusinessError("INTEGRATION_ERROR", "Integration requires credential refresh")
	ErrNoMappedIntegration = NewBusinessError("NO_MAPPED_INTEGRATION", "Control has no mapped integrations")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsProviderTransient reports whether the error is a retryable provider failure.
func IsProviderTransient(err error) bool {
	return IsType(err, ErrorTypeProviderTransient)
}

// IsProviderPermanent reports whether the error requires operator intervention.
func IsProviderPermanent(err error) bool {
	return IsType(err, ErrorTypeProviderPermanent)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
