package store

import "fmt"

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and, optionally, an underlying tier error.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
	Err  error   // The underlying cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInternalError:
		errorCode = "InternalError"
	case RetCDecodingError:
		errorCode = "DecodingError"
	case RetCConsumerError:
		errorCode = "ConsumerError"
	case RetCInvalidOperation:
		errorCode = "InvalidOperation"
	default:
		errorCode = "Unknown"
	}

	if e.Err != nil {
		return fmt.Sprintf("StoreError (code %s): %s: %v", errorCode, e.Msg, e.Err)
	}
	return fmt.Sprintf("StoreError (code %s): %s", errorCode, e.Msg)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new store error wrapping an underlying cause.
func WrapError(code RetCode, msg string, err error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  err,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                   // 1: A tier backend failed; the operation was aborted.
	RetCDecodingError                   // 2: A stored record could not be decoded.
	RetCConsumerError                   // 3: A CDC consumer callback failed.
	RetCInvalidOperation                // 4: Invalid operation.
)
