// File: api/errors.go
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy shared by handles, addresses, connections and acceptors.

package api

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode identifies the failed step of a socket operation.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeHandleCreationFailed
	ErrCodeAddressFamilyMismatch
	ErrCodeAddressFamilyUnsupported
	ErrCodeResolutionFailed
	ErrCodeNoCandidates
	ErrCodeUnreachable
	ErrCodeBindFailed
	ErrCodeListenFailed
	ErrCodeAcceptFailed
	ErrCodeSetModeFailed
	ErrCodeReadFailed
	ErrCodeWriteFailed
	ErrCodeClosedByPeer
	ErrCodeInvalidArgument
	ErrCodeNotSupported
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                       "ok",
	ErrCodeHandleCreationFailed:     "handle creation failed",
	ErrCodeAddressFamilyMismatch:    "address family mismatch",
	ErrCodeAddressFamilyUnsupported: "address family unsupported",
	ErrCodeResolutionFailed:         "resolution failed",
	ErrCodeNoCandidates:             "no candidates",
	ErrCodeUnreachable:              "unreachable",
	ErrCodeBindFailed:               "bind failed",
	ErrCodeListenFailed:             "listen failed",
	ErrCodeAcceptFailed:             "accept failed",
	ErrCodeSetModeFailed:            "set mode failed",
	ErrCodeReadFailed:               "read failed",
	ErrCodeWriteFailed:              "write failed",
	ErrCodeClosedByPeer:             "connection closed by peer",
	ErrCodeInvalidArgument:          "invalid argument",
	ErrCodeNotSupported:             "not supported",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", int(c))
}

// Sentinels. errors.Is matches any *Error carrying the same code.
var (
	ErrHandleCreationFailed     = &Error{Code: ErrCodeHandleCreationFailed}
	ErrAddressFamilyMismatch    = &Error{Code: ErrCodeAddressFamilyMismatch}
	ErrAddressFamilyUnsupported = &Error{Code: ErrCodeAddressFamilyUnsupported}
	ErrResolutionFailed         = &Error{Code: ErrCodeResolutionFailed}
	ErrNoCandidates             = &Error{Code: ErrCodeNoCandidates}
	ErrUnreachable              = &Error{Code: ErrCodeUnreachable}
	ErrBindFailed               = &Error{Code: ErrCodeBindFailed}
	ErrListenFailed             = &Error{Code: ErrCodeListenFailed}
	ErrAcceptFailed             = &Error{Code: ErrCodeAcceptFailed}
	ErrSetModeFailed            = &Error{Code: ErrCodeSetModeFailed}
	ErrReadFailed               = &Error{Code: ErrCodeReadFailed}
	ErrWriteFailed              = &Error{Code: ErrCodeWriteFailed}
	ErrClosedByPeer             = &Error{Code: ErrCodeClosedByPeer}
	ErrInvalidArgument          = &Error{Code: ErrCodeInvalidArgument}
	ErrNotSupported             = &Error{Code: ErrCodeNotSupported}
)

// Error represents a structured error with code, failed step and context.
type Error struct {
	Code    ErrorCode
	Op      string
	Reason  string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Code.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Context[k])
		}
	}
	return b.String()
}

// Unwrap exposes the OS-level cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new structured error for the failed step op.
func NewError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Errorf creates a structured error with a formatted reason and no OS cause.
func Errorf(code ErrorCode, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// WithReason attaches a human hint, e.g. the privileged-port hint.
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeOK
}
