package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrTransport          ErrorType = "TRANSPORT_ERROR"
	ErrUpstreamFetch      ErrorType = "UPSTREAM_FETCH_ERROR"
	ErrUpstreamInit       ErrorType = "UPSTREAM_INIT_ERROR"
	ErrProtocol           ErrorType = "PROTOCOL_ERROR"
	ErrInvariantViolation ErrorType = "INVARIANT_VIOLATION"
	ErrCapacity           ErrorType = "CAPACITY_EXCEEDED"
	ErrAuthFailed         ErrorType = "AUTH_FAILED"
	ErrInvalidRequest     ErrorType = "INVALID_REQUEST"
	ErrInternal           ErrorType = "INTERNAL_ERROR"
	ErrNotFound           ErrorType = "NOT_FOUND"
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

func (e *AppError) Unwrap() error {
	return e.Cause
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

func NewProtocol(msg string) *AppError {
	return New(ErrProtocol, msg, nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func NewUpstreamInit(msg string, cause error) *AppError {
	return New(ErrUpstreamInit, msg, cause)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// IsType reports whether err carries an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

// Public returns the message safe to show a client. Internal errors are
// collapsed to a generic text.
func Public(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return "internal error"
	}
	if appErr.Type == ErrInternal || appErr.Type == ErrInvariantViolation {
		return "internal error"
	}
	return appErr.Message
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrProtocol, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrNotFound, ErrUpstreamInit:
		return http.StatusNotFound
	case ErrCapacity:
		return http.StatusServiceUnavailable
	case ErrUpstreamFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrProtocol:
		return "Check the frame against the subscribe/unsubscribe/ping schema."
	case ErrUpstreamInit:
		return "List supported exchanges via GET /v1/exchanges."
	case ErrUpstreamFetch:
		return "The feed retries automatically."
	case ErrCapacity:
		return "Retry later."
	case ErrAuthFailed:
		return "Check the gateway API key."
	default:
		return ""
	}
}
