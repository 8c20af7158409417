package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidUse marks programming errors such as aborting a request twice.
	ErrInvalidUse = errors.New("invalid use of request scheduler")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("scheduler closed")
	// ErrCanceled matches rejections caused by Abort or by a timeout.
	ErrCanceled = errors.New("request canceled")
	// ErrTimeout matches rejections caused by the per-request timeout.
	ErrTimeout = errors.New("request timed out")
)

// UsageError reports a call that violates the scheduler's contract.
type UsageError struct {
	Op      string
	Message string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidUse, e.Op, e.Message)
}

func (e *UsageError) Unwrap() error {
	return ErrInvalidUse
}

func usageError(op, format string, args ...any) *UsageError {
	return &UsageError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// ResponseError is the rejection value of a request that failed permanently.
type ResponseError struct {
	Response *Response
	// Cause is the transport error for connectivity failures, nil otherwise.
	Cause error
}

func (e *ResponseError) Error() string {
	r := e.Response
	switch {
	case r.TimedOut:
		return fmt.Sprintf("%s %s: %s", r.Method, r.URL, ErrTimeout)
	case r.Canceled:
		return fmt.Sprintf("%s %s: %s", r.Method, r.URL, ErrCanceled)
	case r.StatusCode == 0 && e.Cause != nil:
		return fmt.Sprintf("%s %s: %s: %v", r.Method, r.URL, r.Status, e.Cause)
	default:
		return fmt.Sprintf("%s %s: status %d %s", r.Method, r.URL, r.StatusCode, r.Status)
	}
}

func (e *ResponseError) Unwrap() error {
	return e.Cause
}

// Is matches ErrCanceled and ErrTimeout against the response flags.
func (e *ResponseError) Is(target error) bool {
	switch target {
	case ErrCanceled:
		return e.Response.Canceled
	case ErrTimeout:
		return e.Response.TimedOut
	}
	return false
}

// StatusCode returns the failure status, 0 for connectivity errors and cancellations.
func (e *ResponseError) StatusCode() int {
	return e.Response.StatusCode
}

// IsInvalidUse reports whether err is a contract violation.
func IsInvalidUse(err error) bool {
	return errors.Is(err, ErrInvalidUse)
}

// AsResponseError extracts the rejection response from err.
func AsResponseError(err error) (*ResponseError, bool) {
	var re *ResponseError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
