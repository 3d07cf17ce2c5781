package core

import "errors"

// Error codes for domain errors. They surface to clients unchanged.
const (
	ErrCodeValidation    = "validation"
	ErrCodeNotFound      = "not_found"
	ErrCodeForbidden     = "forbidden"
	ErrCodeWrongChatType = "wrong_chat_type"
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeUnknownEvent  = "unknown_event"
	ErrCodeInternal      = "internal"
)

// ErrHubClosed is returned when registering against a hub that was shut down.
var ErrHubClosed = errors.New("hub closed")

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// NewError builds a CoreError.
func NewError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// Validation reports missing or conflicting input.
func Validation(msg string) *CoreError { return NewError(ErrCodeValidation, msg) }

// NotFound reports an absent or soft-deleted entity.
func NotFound(msg string) *CoreError { return NewError(ErrCodeNotFound, msg) }

// Forbidden reports a membership, role or permission failure.
func Forbidden(msg string) *CoreError { return NewError(ErrCodeForbidden, msg) }

// Internal is the only error clients see for infrastructure failures.
func Internal() *CoreError { return NewError(ErrCodeInternal, "internal server error") }

// AsCoreError extracts a CoreError from err. Anything else maps to Internal.
func AsCoreError(err error) (*CoreError, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return Internal(), false
}
