package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All services MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidEmail ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidPhone ErrorCode = "validation_invalid_phone"
	ErrCodeValidationChannel      ErrorCode = "validation_invalid_channel"
	ErrCodeValidationWindow       ErrorCode = "validation_invalid_window"

	// Not Found (404)
	ErrCodeNotFoundPolicy   ErrorCode = "not_found_policy"
	ErrCodeNotFoundCustomer ErrorCode = "not_found_customer"
	ErrCodeNotFoundReminder ErrorCode = "not_found_reminder"
	ErrCodeNotFoundJob      ErrorCode = "not_found_job"

	// Unauthorized (401)
	ErrCodeUnauthorizedSignature ErrorCode = "unauthorized_invalid_signature"

	// Conflict (409)
	ErrCodeConflictReminderExists ErrorCode = "conflict_reminder_exists"
	ErrCodeConflictPolicyStatus   ErrorCode = "conflict_policy_status"
	ErrCodeConflictJobRunning     ErrorCode = "conflict_job_already_running"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB                ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected        ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamEmailProvider     ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamMessagingProvider ErrorCode = "upstream_messaging_provider_unavailable"
	ErrCodeUpstreamUnavailable       ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited       ErrorCode = "upstream_rate_limited"

	// Delivery-specific
	ErrCodeEmailBlocked         ErrorCode = "email_blocked"
	ErrCodeRecipientInvalid     ErrorCode = "recipient_invalid"
	ErrCodeChannelNotConfigured ErrorCode = "channel_not_configured"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the ops API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "unauthorized_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeEmailBlocked), s == string(ErrCodeRecipientInvalid):
		return http.StatusUnprocessableEntity // 422
	case s == string(ErrCodeChannelNotConfigured):
		return http.StatusServiceUnavailable // 503
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the
// pipeline. All domain errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// IsErrorCode reports whether err is or wraps an AppError with the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error. This is the standard constructor for domain
// errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
