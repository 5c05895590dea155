package response

import (
	"net/http"
	"strconv"
)

// Error is the body of an error envelope. Status selects the HTTP status and
// is not serialized.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string { return e.Message }

// Error codes returned by the API.
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeBodyTooLarge     = "BODY_TOO_LARGE"
)

var (
	ErrInvalidToken   = newError(http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid or expired token")
	ErrReadOnlyToken  = newError(http.StatusForbidden, ErrCodeForbidden, "Token is read-only")
	ErrNotFound       = newError(http.StatusNotFound, ErrCodeNotFound, "Resource not found")
	ErrInternalServer = newError(http.StatusInternalServerError, ErrCodeInternalError, "Internal server error")
	ErrRateLimited    = newError(http.StatusTooManyRequests, ErrCodeRateLimited, "Too many requests")
)

func newError(status int, code, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// NewBadRequest reports a malformed request.
func NewBadRequest(message string) *Error {
	return newError(http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NewValidationError reports a well-formed request with invalid values.
func NewValidationError(message string) *Error {
	return newError(http.StatusBadRequest, ErrCodeValidationFailed, message)
}

// NewConflict reports a uniqueness violation.
func NewConflict(message string) *Error {
	return newError(http.StatusConflict, ErrCodeConflict, message)
}

// NewNotFound reports a missing rule, alert, template or preference.
func NewNotFound(message string) *Error {
	return newError(http.StatusNotFound, ErrCodeNotFound, message)
}

// NewBodyTooLarge reports a request body over the handler's limit.
func NewBodyTooLarge(limit int64) *Error {
	return newError(http.StatusRequestEntityTooLarge, ErrCodeBodyTooLarge,
		"request body exceeds "+formatBytes(limit))
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return strconv.FormatInt(n>>20, 10) + " MiB"
	case n >= 1<<10 && n%(1<<10) == 0:
		return strconv.FormatInt(n>>10, 10) + " KiB"
	default:
		return strconv.FormatInt(n, 10) + " bytes"
	}
}
