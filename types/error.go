package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unified error code across the call pipeline.
type ErrorCode string

// Provider error codes
const (
	ErrProviderTransient   ErrorCode = "PROVIDER_TRANSIENT"
	ErrProviderFatal       ErrorCode = "PROVIDER_FATAL"
	ErrNoProviderAvailable ErrorCode = "NO_PROVIDER_AVAILABLE"
	ErrBackpressure        ErrorCode = "BACKPRESSURE"
)

// Agent error codes
const (
	ErrAgentTimeout           ErrorCode = "AGENT_TIMEOUT"
	ErrAgentInvocationFailure ErrorCode = "AGENT_INVOCATION_FAILURE"
)

// Session error codes
const (
	ErrBufferOverrun     ErrorCode = "BUFFER_OVERRUN"
	ErrSessionTimeout    ErrorCode = "SESSION_TIMEOUT"
	ErrSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	ErrSessionEnded      ErrorCode = "SESSION_ENDED"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Generic error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := string(e.Code)
	if e.Provider != "" {
		prefix += "/" + e.Provider
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// =============================================================================
// Taxonomy constructors
// =============================================================================

// ProviderErrorKind separates failures worth retrying from those that are not.
type ProviderErrorKind string

const (
	ProviderTransient ProviderErrorKind = "transient"
	ProviderFatal     ProviderErrorKind = "fatal"
)

// NewProviderError wraps a provider failure. Transient errors are retryable.
func NewProviderError(provider string, kind ProviderErrorKind, cause error) *Error {
	if kind == ProviderFatal {
		return NewError(ErrProviderFatal, "provider failed").
			WithProvider(provider).
			WithCause(cause)
	}
	return NewError(ErrProviderTransient, "provider temporarily unavailable").
		WithProvider(provider).
		WithRetryable(true).
		WithCause(cause)
}

// NewNoProviderAvailable reports that every adapter of a capability is exhausted.
func NewNoProviderAvailable(capability string) *Error {
	return NewError(ErrNoProviderAvailable, "no "+capability+" provider available").
		WithHTTPStatus(503)
}

// AgentErrorKind distinguishes deadline overruns from invocation failures.
type AgentErrorKind string

const (
	AgentTimeout           AgentErrorKind = "timeout"
	AgentInvocationFailure AgentErrorKind = "invocation_failure"
)

// NewAgentError wraps an agent capability failure.
func NewAgentError(kind AgentErrorKind, cause error) *Error {
	if kind == AgentTimeout {
		return NewError(ErrAgentTimeout, "agent exceeded reasoning deadline").WithCause(cause)
	}
	return NewError(ErrAgentInvocationFailure, "agent invocation failed").WithCause(cause)
}

// NewBufferOverrun reports a producer that stayed blocked past its budget.
func NewBufferOverrun(buffer string, waited time.Duration) *Error {
	return NewError(ErrBufferOverrun,
		fmt.Sprintf("%s buffer full for %s", buffer, waited))
}

// NewSessionTimeout reports a session with no inbound audio for too long.
func NewSessionTimeout(sessionID string, idle time.Duration) *Error {
	return NewError(ErrSessionTimeout,
		fmt.Sprintf("session %s idle for %s", sessionID, idle))
}

// NewSessionNotFound reports an unknown or already ended session.
func NewSessionNotFound(sessionID string) *Error {
	return NewError(ErrSessionNotFound, "session "+sessionID+" not found").
		WithHTTPStatus(404)
}

// IsTransient reports whether err is a transient provider failure.
func IsTransient(err error) bool {
	return IsErrorCode(err, ErrProviderTransient)
}

// IsFatal reports whether err is a fatal provider failure.
func IsFatal(err error) bool {
	return IsErrorCode(err, ErrProviderFatal)
}

// IsNoProviderAvailable reports whether err is a pool exhaustion.
func IsNoProviderAvailable(err error) bool {
	return IsErrorCode(err, ErrNoProviderAvailable)
}

// IsAgentTimeout reports whether err is a reasoning deadline overrun.
func IsAgentTimeout(err error) bool {
	return IsErrorCode(err, ErrAgentTimeout)
}

// ClassifyHTTPStatus maps an upstream HTTP status to a provider error kind.
// 408, 429 and 5xx are worth retrying; every other 4xx is not.
func ClassifyHTTPStatus(status int) ProviderErrorKind {
	switch {
	case status == 408, status == 429, status >= 500:
		return ProviderTransient
	default:
		return ProviderFatal
	}
}
