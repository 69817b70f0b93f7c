package call

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-mevy/pkg/capture"
)

// Sentinel errors for the call package.
var (
	// ErrInvalidConfig indicates a session setting is missing or unknown.
	ErrInvalidConfig = errors.New("call: invalid config")

	// ErrAlreadyStarted indicates Connect was called more than once.
	ErrAlreadyStarted = errors.New("call: session already started")

	// ErrSessionClosed indicates the session reached Closed.
	ErrSessionClosed = errors.New("call: session closed")

	// ErrNotConnected indicates the transport is not open.
	ErrNotConnected = errors.New("call: not connected")

	// ErrRemoteClosed indicates the service closed the connection.
	ErrRemoteClosed = errors.New("call: connection closed by remote")
)

// ConnectionError represents a transport failure. Every ConnectionError
// ends the session; there is no automatic reconnect.
type ConnectionError struct {
	// Reason describes what failed.
	Reason string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("call: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("call: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error) *ConnectionError {
	return &ConnectionError{Reason: reason, Cause: cause}
}

// DeviceError reports that the output device could not be opened.
type DeviceError struct {
	Backend string
	Err     error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("call: %s output device: %v", e.Backend, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err ended a session: device acquisition
// failures and transport failures.
func IsFatal(err error) bool {
	var connErr *ConnectionError
	var devErr *DeviceError
	var capErr *capture.CaptureError
	return errors.As(err, &connErr) || errors.As(err, &devErr) || errors.As(err, &capErr)
}
