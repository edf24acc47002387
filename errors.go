package bidi

import (
	"errors"
	"fmt"
)

// Error codes returned by the remote end in "error" replies.
const (
	CodeInvalidArgument      = "invalid argument"
	CodeNoSuchFrame          = "no such frame"
	CodeNoSuchIntercept      = "no such intercept"
	CodeNoSuchRequest        = "no such request"
	CodeUnknownCommand       = "unknown command"
	CodeUnknownError         = "unknown error"
	CodeUnsupportedOperation = "unsupported operation"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrTransportClosed  = errors.New("transport closed")
	ErrTransportTimeout = errors.New("transport timeout")
	ErrSessionClosed    = errors.New("session closed")
	ErrHandlerFault     = errors.New("handler fault")

	// ErrRequestHandled is returned by a RequestHandler that already resolved
	// the intercepted request itself (for example with FailRequest or
	// ProvideResponse). No continuation is issued for that event.
	ErrRequestHandled = errors.New("request handled")
)

// MalformedPayloadError reports a wire object that does not fit the expected
// Go shape.
type MalformedPayloadError struct {
	Shape  string
	Reason string
	Cause  error
}

func (e *MalformedPayloadError) Error() string {
	msg := "malformed payload"
	if e.Shape != "" {
		msg += " for " + e.Shape
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MalformedPayloadError) Is(target error) bool {
	return target == ErrMalformedPayload
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Cause
}

// ProtocolError represents an explicit error reply from the remote end.
type ProtocolError struct {
	Method     string
	Code       string
	Message    string
	Stacktrace string
}

func (e *ProtocolError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("%s: %s: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TransportError reports that the channel failed or closed before a reply
// arrived, or that the reply did not arrive in time.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HandlerFault wraps a panic, error or timeout raised by an application
// filter or handler while dispatching one intercepted request.
type HandlerFault struct {
	Request string
	Panic   any
	Err     error
}

func (e *HandlerFault) Error() string {
	switch {
	case e.Panic != nil:
		return fmt.Sprintf("handler fault on request %s: panic: %v", e.Request, e.Panic)
	case e.Err != nil:
		return fmt.Sprintf("handler fault on request %s: %v", e.Request, e.Err)
	}
	return "handler fault on request " + e.Request
}

func (e *HandlerFault) Is(target error) bool {
	return target == ErrHandlerFault
}

func (e *HandlerFault) Unwrap() error {
	return e.Err
}

// NewMalformedPayload creates a malformed payload error for the named shape.
func NewMalformedPayload(shape, reason string) *MalformedPayloadError {
	return &MalformedPayloadError{Shape: shape, Reason: reason}
}

// WrapMalformedPayload creates a malformed payload error wrapping a decode error.
func WrapMalformedPayload(shape string, cause error) *MalformedPayloadError {
	return &MalformedPayloadError{Shape: shape, Cause: cause}
}

// NewProtocolError creates a protocol error as the remote end would report it.
func NewProtocolError(code, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// IsTransportError returns true if err means the channel is unusable or timed out.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocolError returns true if err carries an error reply with the given
// code. An empty code matches any protocol error.
func IsProtocolError(err error, code string) bool {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return false
	}
	return code == "" || pe.Code == code
}
