// Package storeerr defines the error taxonomy shared by the card store.
//
// Every failure that crosses a package boundary is an *Error carrying a Code.
// Callers branch on the code through the Is* helpers, which use errors.As and
// therefore see through fmt.Errorf wrapping.
package storeerr

import (
	"errors"
	"fmt"
)

// Code categorizes store errors.
type Code string

const (
	// CodeLockTimeout means exclusive access to the counter could not be
	// acquired within the configured bound.
	CodeLockTimeout Code = "LOCK_TIMEOUT"

	// CodeIOFailure covers read, write, flush and rename errors at the
	// filesystem boundary.
	CodeIOFailure Code = "IO_FAILURE"

	// CodeValidation means a record does not satisfy the structural contract.
	CodeValidation Code = "VALIDATION_FAILURE"

	// CodeNotFound means the key is absent, or present but unreadable.
	CodeNotFound Code = "NOT_FOUND"
)

// ErrNotFound is the sentinel matched by errors.Is for CodeNotFound errors.
var ErrNotFound = errors.New("not found")

// Error is a categorized store failure.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the operation that failed ("allocate", "write", "read", ...).
	Op string

	// Key is the affected document key or file, when there is one.
	Key string

	// Detail is a human-readable explanation, used for validation failures.
	Detail string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Code)
	if e.Key != "" {
		msg += fmt.Sprintf(" (key=%s)", e.Key)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrNotFound) true for every CodeNotFound error.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Code == CodeNotFound
}

// LockTimeout builds a CodeLockTimeout error.
func LockTimeout(op, key string, err error) *Error {
	return &Error{Code: CodeLockTimeout, Op: op, Key: key, Err: err}
}

// IO builds a CodeIOFailure error.
func IO(op, key string, err error) *Error {
	return &Error{Code: CodeIOFailure, Op: op, Key: key, Err: err}
}

// Validation builds a CodeValidation error.
func Validation(op, key, detail string) *Error {
	return &Error{Code: CodeValidation, Op: op, Key: key, Detail: detail}
}

// NotFound builds a CodeNotFound error. cause may be nil for a plain absent
// key, or the decode/validation error that made an existing file unreadable.
func NotFound(op, key string, cause error) *Error {
	return &Error{Code: CodeNotFound, Op: op, Key: key, Err: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func IsLockTimeout(err error) bool { return CodeOf(err) == CodeLockTimeout }
func IsIO(err error) bool          { return CodeOf(err) == CodeIOFailure }
func IsValidation(err error) bool  { return CodeOf(err) == CodeValidation }
func IsNotFound(err error) bool    { return CodeOf(err) == CodeNotFound }
