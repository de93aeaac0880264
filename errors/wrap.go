package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error
// chain. If err is nil, Wrap returns nil. If err is already a SchedError,
// its code, category and identifiers are preserved. Otherwise a new Internal
// error wraps the original.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var schedErr *Error
	if errors.As(err, &schedErr) {
		wrapped := &Error{
			code:      schedErr.code,
			category:  schedErr.category,
			message:   message,
			cause:     err,
			metadata:  schedErr.Metadata(),
			retryable: schedErr.retryable,
			agentID:   schedErr.agentID,
			taskID:    schedErr.taskID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTaskTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsSchedError attempts to extract a SchedError from an error chain.
// Returns nil if no SchedError is found.
func AsSchedError(err error) SchedError {
	var schedErr *Error
	if errors.As(err, &schedErr) {
		return schedErr
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var schedErr *Error
	if errors.As(err, &schedErr) {
		return schedErr.code == code
	}
	return false
}

// IsCategory checks if any error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var schedErr *Error
	if errors.As(err, &schedErr) {
		return schedErr.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
// Non-SchedErrors default to not retryable.
func IsRetryable(err error) bool {
	var schedErr *Error
	if errors.As(err, &schedErr) {
		return schedErr.Retryable()
	}
	return false
}

// IsFatal checks if the error must propagate to the caller.
func IsFatal(err error) bool {
	return IsCategory(err, CategoryFatal)
}

// IsTransient checks if the error is transient.
func IsTransient(err error) bool {
	return IsCategory(err, CategoryTransient)
}
