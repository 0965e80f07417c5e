package core

import (
	"errors"
	"fmt"
)

// Error represents a session or protocol error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Is matches by Type and, when the target carries one, Code. This lets
// errors.Is(err, ErrNotReady) succeed for independently constructed values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrState          ErrorType = "state_error"
	ErrProtocol       ErrorType = "protocol_error"
	ErrTransport      ErrorType = "transport_error"
	ErrTimeout        ErrorType = "timeout_error"
	ErrResumption     ErrorType = "resumption_error"
	ErrAPI            ErrorType = "api_error"
)

// Sentinel values for the error conditions callers branch on. Compare with
// errors.Is; the concrete error usually carries more context.
var (
	// ErrNotReady is returned for sends attempted before setup completed
	// or after the session left the active state.
	ErrNotReady = &Error{Type: ErrState, Code: "not_ready", Message: "session is not active"}

	// ErrMalformedFrame is returned by the codec for frames that do not
	// match the wire schema.
	ErrMalformedFrame = &Error{Type: ErrProtocol, Code: "malformed_frame", Message: "malformed wire frame"}

	// ErrSendTimeout is returned when a write misses the send deadline.
	ErrSendTimeout = &Error{Type: ErrTimeout, Code: "send_timeout", Message: "send deadline exceeded"}

	// ErrConnectionFailed is returned once the reconnect budget is exhausted.
	ErrConnectionFailed = &Error{Type: ErrTransport, Code: "connection_failed", Message: "connection failed after retries"}

	// ErrNoActiveSpeechWindow is returned for audio sent outside an open
	// manual-VAD activity window.
	ErrNoActiveSpeechWindow = &Error{Type: ErrState, Code: "no_active_speech_window", Message: "no active speech window"}

	// ErrResumptionExpired reports that the server rejected a resumption
	// handle and the session fell back to a fresh conversation.
	ErrResumptionExpired = &Error{Type: ErrResumption, Code: "resumption_expired", Message: "resumption handle rejected"}

	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = &Error{Type: ErrState, Code: "session_closed", Message: "session is closed"}
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewProtocolError creates a malformed-frame error with detail.
func NewProtocolError(message string, cause error) *Error {
	return &Error{
		Type:    ErrProtocol,
		Code:    "malformed_frame",
		Message: message,
		Cause:   cause,
	}
}

// NewStateError creates an error for an operation attempted in the wrong
// session state.
func NewStateError(message, code string) *Error {
	return &Error{
		Type:    ErrState,
		Code:    code,
		Message: message,
	}
}

// NewTransportError wraps a transport-level failure.
func NewTransportError(message string, cause error) *Error {
	return &Error{
		Type:    ErrTransport,
		Message: message,
		Cause:   cause,
	}
}

// NewAPIError creates a server-reported error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NotReady returns a not-ready error naming the state the session was in.
func NotReady(state string) *Error {
	return &Error{
		Type:    ErrState,
		Code:    "not_ready",
		Message: fmt.Sprintf("session is not active (state: %s)", state),
	}
}

// IsRetryable returns true if the error is worth a reconnect attempt.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrTransport, ErrTimeout:
		return true
	default:
		return false
	}
}

// AsError extracts a *Error from err, or wraps err as a transport error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return NewTransportError(err.Error(), err)
}
