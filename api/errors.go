// Package api
// Author: momentics <momentics@gmail.com>
//
// Sentinel errors shared by the reactor, transports and the RPC layer, and
// the coded error type the transports return for system call failures.

package api

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrStreamClosed    = errors.New("stream is closed")
	ErrWouldBlock      = errors.New("operation would block")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidHandle   = errors.New("invalid handle")
	ErrAlreadyExists   = errors.New("already registered")
	ErrClosed          = errors.New("already closed")
)

// ErrorCode classifies an Error.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeIO
	ErrCodeResourceExhausted
	ErrCodeInternal
)

var codeNames = [...]string{
	ErrCodeOK:                "ok",
	ErrCodeIO:                "io",
	ErrCodeResourceExhausted: "resource-exhausted",
	ErrCodeInternal:          "internal",
}

func (c ErrorCode) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error carries a code, the failing operation and optional key/value
// details such as the handle involved.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteByte(']')
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches code and message to err.
func Wrap(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithContext records one detail and returns e for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, 1)
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the code of the first *Error in err's chain. Unstructured
// errors are ErrCodeInternal and nil is ErrCodeOK.
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
