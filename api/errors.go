// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error taxonomy for the socket facade. Every failure that crosses the
// facade boundary is an *Error with a Code; gateway diagnostics travel in
// Detail and Cause.

package api

import (
	"errors"
	"strings"
)

// Common errors used across the library.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotSupported    = errors.New("operation not supported")
	ErrInvalidUTF8     = errors.New("payload is not valid UTF-8")
)

// ErrorCode represents specific error conditions of the facade.
type ErrorCode int

const (
	CodeOK ErrorCode = iota
	CodeNotFound
	CodeCreationFailed
	CodeSendFailed
	CodeReceiveFailed
	CodeNoMessage
	CodeInvalidArgument
)

func (c ErrorCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeNotFound:
		return "not found"
	case CodeCreationFailed:
		return "creation failed"
	case CodeSendFailed:
		return "send failed"
	case CodeReceiveFailed:
		return "receive failed"
	case CodeNoMessage:
		return "no message"
	case CodeInvalidArgument:
		return "invalid argument"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is; matching is by Code only.
var (
	ErrNotFound       = &Error{Code: CodeNotFound}
	ErrCreationFailed = &Error{Code: CodeCreationFailed}
	ErrSendFailed     = &Error{Code: CodeSendFailed}
	ErrReceiveFailed  = &Error{Code: CodeReceiveFailed}
)

// Error is the structured error returned by the registry and the facade.
type Error struct {
	Code    ErrorCode
	Name    string  // logical endpoint name, if any
	Pattern Pattern // set for CodeCreationFailed
	Detail  string  // gateway diagnostic
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code.String())
	if e.Code == CodeCreationFailed {
		b.WriteString(" (")
		b.WriteString(e.Pattern.String())
		b.WriteByte(')')
	}
	if e.Name != "" {
		b.WriteString(": socket '")
		b.WriteString(e.Name)
		b.WriteByte('\'')
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	} else if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// NotFound reports an unknown logical name.
func NotFound(name string) *Error {
	return &Error{Code: CodeNotFound, Name: name}
}

// CreationFailed reports a gateway failure while creating an endpoint.
func CreationFailed(name string, p Pattern, detail string, cause error) *Error {
	return &Error{Code: CodeCreationFailed, Name: name, Pattern: p, Detail: detail, Cause: cause}
}

// SendFailed reports a gateway failure on send or publish.
func SendFailed(name, detail string, cause error) *Error {
	return &Error{Code: CodeSendFailed, Name: name, Detail: detail, Cause: cause}
}

// ReceiveFailed reports a gateway failure on poll or receive.
func ReceiveFailed(name, detail string, cause error) *Error {
	return &Error{Code: CodeReceiveFailed, Name: name, Detail: detail, Cause: cause}
}

// InvalidArgument reports a caller error detected before reaching the gateway.
func InvalidArgument(name, detail string) *Error {
	return &Error{Code: CodeInvalidArgument, Name: name, Detail: detail, Cause: ErrInvalidArgument}
}

// CodeOf extracts the Code of err, CodeOK for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeReceiveFailed
}
