// Package errors provides kinded error handling for the compliance engine.
package errors

import (
	"errors"
	"fmt"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error kinds used across the engine. Rule and adapter failures are
// recovered locally during a scan; workflow and configuration failures
// surface to the caller.
const (
	KindInvalidRule        = "InvalidRule"
	KindAdapter            = "Adapter"
	KindPartition          = "Partition"
	KindInvalidTransition  = "InvalidTransition"
	KindDuplicateViolation = "DuplicateViolation"
	KindNotFound           = "NotFound"
)

// Error is a custom error type carrying a kind alongside the message.
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicates the error
	Message string `json:"message"`

	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: "Unknown", Message: message}
}

func NewWithKind(kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(err error) *Error {
	return &Error{cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

// Reason returns a copy of the error with kind set to the given value
func (e *Error) Reason(kind string) *Error {
	err := *e
	err.Kind = kind
	return &err
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap sets the error cause
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

// Explain makes a copy of the error with the given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// KindOf returns the kind of err if it is (or wraps) an *Error.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind string) bool {
	return KindOf(err) == kind
}

// InvalidRule reports a rule that failed structural validation.
func InvalidRule(message string, args ...any) *Error {
	return &Error{Kind: KindInvalidRule, Message: fmt.Sprintf(message, args...)}
}

// Adapter reports a row that could not be canonicalized.
func Adapter(message string, args ...any) *Error {
	return &Error{Kind: KindAdapter, Message: fmt.Sprintf(message, args...)}
}

// Partition reports a scan partition that failed entirely.
func Partition(message string, args ...any) *Error {
	return &Error{Kind: KindPartition, Message: fmt.Sprintf(message, args...)}
}

// InvalidTransition reports an illegal review-workflow transition.
func InvalidTransition(message string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf(message, args...)}
}

// DuplicateViolation reports a concurrent insert race on the (rule, record)
// key. Callers are expected to downgrade this to a reconfirm, never to
// surface it externally.
func DuplicateViolation(message string, args ...any) *Error {
	return &Error{Kind: KindDuplicateViolation, Message: fmt.Sprintf(message, args...)}
}

// NotFound reports a missing entity.
func NotFound(message string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(message, args...)}
}
