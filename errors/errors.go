// Package errors provides the error classification used across cs-router.
//
// Three classes matter to callers of the routing layer:
//   - Invalid: malformed input (a stream that does not decode, a bad argument). Recovered locally.
//   - Unsupported: a destination this process role cannot reach. Reported loudly, returned as an ordinary failure.
//   - Fatal: a protocol desynchronization between processes. The application decides whether to terminate.
package errors

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes.
type ErrorClass int

const (
	// ErrorInvalid represents errors due to invalid input.
	ErrorInvalid ErrorClass = iota
	// ErrorUnsupported represents an operation the current process role does not implement.
	ErrorUnsupported
	// ErrorFatal represents unrecoverable protocol errors.
	ErrorFatal
)

// String returns the string representation of ErrorClass.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorInvalid:
		return "invalid"
	case ErrorUnsupported:
		return "unsupported"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables.
var (
	// Stream errors
	ErrMalformedStream = errors.New("malformed stream")

	// Routing errors
	ErrUnsupportedDestination = errors.New("destination not supported by this process role")
	ErrNoMembers              = errors.New("process group has no members")
	ErrTransportClosed        = errors.New("transport closed")

	// Interpreter errors
	ErrUnknownObject = errors.New("unknown object id")
	ErrUnknownMethod = errors.New("unknown method")
	ErrUnknownClass  = errors.New("unknown class")
	ErrBadArgument   = errors.New("bad argument")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")

	// Allocation errors
	ErrIDsExhausted = errors.New("object ids exhausted")
)

// ClassifiedError wraps an error with its classification.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapInvalid wraps an error as invalid with context.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, err, component, method, action)
}

// WrapUnsupported wraps an error as unsupported with context.
func WrapUnsupported(err error, component, method, action string) error {
	return wrapClassified(ErrorUnsupported, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, err, component, method, action)
}

func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return ErrorFatal, true
	}
	return 0, false
}

// IsInvalid checks if an error is due to invalid input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}
	return errors.Is(err, ErrMalformedStream) || errors.Is(err, ErrBadArgument)
}

// IsUnsupported checks if an error reports a destination the process role cannot serve.
func IsUnsupported(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorUnsupported
	}
	return errors.Is(err, ErrUnsupportedDestination)
}

// IsFatal checks if an error is a fatal protocol error.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == ErrorFatal
}

// ProtocolError is raised when a locally executed stream produces an Error result.
// Message is the interpreter's message, Replay the textual form of the record that failed.
type ProtocolError struct {
	Message string
	Replay  string
}

func (e *ProtocolError) Error() string {
	if e.Replay == "" {
		return e.Message
	}
	return e.Message + "\nwhile processing\n" + e.Replay
}

// RemoteError carries an Error result returned by a remote process.
type RemoteError struct {
	Addr    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Addr, e.Message)
}

// Re-exported helpers so callers importing this package do not also need the standard one.
var (
	New = errors.New
	Is  = errors.Is
	As  = errors.As
)
