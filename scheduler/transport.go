package scheduler

import "context"

// Transport performs one HTTP attempt. A nil error means resp carries a real
// status; a non-nil error is a connectivity failure reported as status 0.
// Implementations must return promptly once ctx is canceled.
type Transport interface {
	Send(ctx context.Context, a *Attempt) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, a *Attempt) (*Response, error)

func (f TransportFunc) Send(ctx context.Context, a *Attempt) (*Response, error) {
	return f(ctx, a)
}
