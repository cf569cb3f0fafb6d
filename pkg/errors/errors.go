// Package errors provides structured, field-annotated errors shared by the
// tap orchestrator and both gateways.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Sentinel errors reused across cmd/tap, cmd/fgw and cmd/sgw.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternalError      = errors.New("internal error")
	ErrTimeout            = errors.New("operation timed out")
	ErrUnavailable        = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrCanceled           = errors.New("operation canceled")

	// Domain-specific sentinels.
	ErrPortExhausted      = errors.New("no free RTP ports available")
	ErrSessionNotFound    = errors.New("session not found")
	ErrBridgeCreateFailed = errors.New("bridge creation failed")
	ErrChannelNotFound    = errors.New("channel not found")
)

// Error is a structured error carrying the wrapped error, a message,
// contextual fields and the call site where it was created.
type Error struct {
	original error
	message  string
	fields   map[string]interface{}
	file     string
	line     int
	Code     string
}

// New creates a new structured error with the given message.
func New(message string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   firstOrEmpty(fields),
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context. Returns nil if err is nil.
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: err,
		message:  message,
		fields:   firstOrEmpty(fields),
		file:     file,
		line:     line,
	}
}

func firstOrEmpty(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 && fields[0] != nil {
		return fields[0]
	}
	return make(map[string]interface{})
}

// WithField returns a copy of e with an additional context field.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}
	fields := make(map[string]interface{}, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Error{original: e.original, message: e.message, fields: fields, file: e.file, line: e.line, Code: e.Code}
}

// WithFields returns a copy of e with additional context fields merged in.
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Error{original: e.original, message: e.message, fields: merged, file: e.file, line: e.line, Code: e.Code}
}

// WithCode returns a copy of e tagged with an error code for categorization.
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	return &Error{original: e.original, message: e.message, fields: e.fields, file: e.file, line: e.line, Code: code}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}
	if e.message == "" {
		return e.original.Error()
	}
	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements errors.Unwrap.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Location returns "file:line" for where the error was created.
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	parts := strings.Split(e.file, "/")
	return fmt.Sprintf("%s:%d", parts[len(parts)-1], e.line)
}

// Fields returns the error's context fields.
func (e *Error) Fields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// Is implements errors.Is against the wrapped original error.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	return errors.Is(e.original, target)
}
