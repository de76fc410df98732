// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for the lwm2mux bridge.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrEngineInit      = errors.New("engine initialization failed")
	ErrServerClosed    = errors.New("server is closed")
	ErrUnknownIdentity = errors.New("no instance registered for identity")
	ErrMailboxFull     = errors.New("notification mailbox is full")
	ErrNoNotification  = errors.New("no notification received")
	ErrHandlerPanic    = errors.New("monitoring handler panicked")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeEngine
	ErrCodeClosed
	ErrCodeRegistry
	ErrCodeTimeout
	ErrCodeHandler
	ErrCodeInternal
)

// String returns a short name for the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeEngine:
		return "engine"
	case ErrCodeClosed:
		return "closed"
	case ErrCodeRegistry:
		return "registry"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeHandler:
		return "handler"
	default:
		return "internal"
	}
}

// Error represents a structured error with code and context.
// Cause, when set, is exposed through Unwrap so errors.Is matches the sentinels above.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// CodeOf extracts the ErrorCode from err, or ErrCodeInternal when err is not an *Error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}
