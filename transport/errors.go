package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Interceptor stages.
const (
	StageRequest  = "request"
	StageResponse = "response"
)

// InterceptorError reports an interceptor that refused an attempt.
type InterceptorError struct {
	Stage string
	Err   error
}

func (e *InterceptorError) Error() string {
	return fmt.Sprintf("%s interceptor failed: %v", e.Stage, e.Err)
}

func (e *InterceptorError) Unwrap() error {
	return e.Err
}

// EncodingError reports a body that could not be encoded for its content type.
type EncodingError struct {
	ContentType string
	Err         error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode body as %s: %v", e.ContentType, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err came from a deadline or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
