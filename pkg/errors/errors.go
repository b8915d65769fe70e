// Package errors provides structured error handling for ledgersync.
//
// Every failure that crosses a component boundary is an *Error carrying an
// ErrorType. The pipeline uses the type, not the message, to decide whether a
// failure aborts a cycle, excludes one record, or is retried.
package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeConnection means the source could not be reached or verified
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeExtraction means the source was reachable but the query failed
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeMalformedRecord means a fetched record violates the record invariants
	ErrorTypeMalformedRecord ErrorType = "malformed_record"
	// ErrorTypeDelivery means the sink returned non-2xx or the transport failed
	ErrorTypeDelivery ErrorType = "delivery"
	// ErrorTypeRetryExhausted is the terminal form of a delivery error
	ErrorTypeRetryExhausted ErrorType = "retry_exhausted"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeQuery represents watermark store query errors
	ErrorTypeQuery ErrorType = "query"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value, searching wrapped *Error causes as well
func (e *Error) Detail(key string) (interface{}, bool) {
	var err error = e
	for err != nil {
		var cur *Error
		if !errors.As(err, &cur) {
			return nil, false
		}
		if v, ok := cur.Details[key]; ok {
			return v, true
		}
		err = cur.Cause
	}
	return nil, false
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType reports whether err, or any *Error it wraps, has the given type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the type of the outermost *Error in err's chain
func TypeOf(err error) (ErrorType, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Type, true
}

// IsRetryable returns true if the error is worth another attempt
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	t, ok := TypeOf(err)
	if !ok {
		return true
	}

	switch t {
	case ErrorTypeDelivery, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// Is is a passthrough to the standard library
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a passthrough to the standard library
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
