// Package errors provides the typed error used throughout the node. Every error carries an
// ERR code so callers can classify failures (peer misbehaviour, invalid blocks, storage
// problems) without string matching.
package errors

import (
	"errors"
	"fmt"
)

type Error struct {
	code       ERR
	message    string
	wrappedErr error
}

// Error renders as "CODE (n): message", followed by the wrapped error when there is one.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	text := fmt.Sprintf("%s (%d): %s", e.code.Enum(), e.code, e.message)
	if e.wrappedErr != nil {
		text += ": " + e.wrappedErr.Error()
	}

	return text
}

// Is matches on the code, following wrapped *Error values only. Any other target is left
// to the standard unwrapping of errors.Is.
func (e *Error) Is(target error) bool {
	targetErr, ok := target.(*Error)
	if !ok || targetErr == nil {
		return false
	}

	for current := e; current != nil; {
		if current.code == targetErr.code {
			return true
		}

		next, ok := current.wrappedErr.(*Error)
		if !ok {
			return false
		}

		current = next
	}

	return false
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.wrappedErr
}

func (e *Error) Code() ERR {
	if e == nil {
		return ERR_UNKNOWN
	}

	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}

	return e.message
}

func (e *Error) WrappedErr() error {
	if e == nil {
		return nil
	}

	return e.wrappedErr
}

// New creates an error with the given code. The message is formatted with params; when the
// last param is an error it is not used for formatting but wrapped instead.
func New(code ERR, message string, params ...interface{}) *Error {
	var cause error

	if n := len(params); n > 0 {
		if err, ok := params[n-1].(error); ok {
			cause = err
			params = params[:n-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	if _, known := ERR_name[int32(code)]; !known {
		message = "invalid error code"
	}

	return &Error{
		code:       code,
		message:    message,
		wrappedErr: cause,
	}
}

// Join combines the non-nil errors into one, nil when there are none.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// CodeOf returns the code of the first *Error in the chain, ERR_UNKNOWN otherwise.
func CodeOf(err error) ERR {
	var tErr *Error
	if As(err, &tErr) {
		return tErr.Code()
	}

	return ERR_UNKNOWN
}
