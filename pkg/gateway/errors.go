package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for session and room error conditions.
var (
	// ErrSessionClosed is returned when an operation targets a closed
	// session.
	ErrSessionClosed = errors.New("gateway: session closed")

	// ErrOutboxFull is returned when a session's outbound buffer is full
	// and a delivery is dropped.
	ErrOutboxFull = errors.New("gateway: outbox full")

	// ErrInvalidPayload is returned for malformed frame payloads.
	ErrInvalidPayload = errors.New("gateway: invalid payload")
)

// SessionError wraps an error with session context for logging and
// errors.Is/As matching.
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	return fmt.Sprintf("gateway: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}
