package scheduler

import "context"

// Handle is the single-resolution result of a submitted request.
type Handle struct {
	done chan struct{}
	resp *Response
	err  error

	// guarded by the owning scheduler's mutex
	settled bool
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// settle records the outcome once. Later calls report false and change nothing.
func (h *Handle) settle(resp *Response, err error) bool {
	if h.settled {
		return false
	}
	h.settled = true
	h.resp = resp
	h.err = err
	close(h.done)
	return true
}

// Done is closed once the request has succeeded or failed permanently.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the request settles or ctx ends. Ending ctx does not abort the request.
func (h *Handle) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-h.done:
		return h.resp, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled reports whether the request has succeeded or failed permanently.
func (h *Handle) Settled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome of a settled handle, or nil, nil before settlement.
func (h *Handle) Result() (*Response, error) {
	if !h.Settled() {
		return nil, nil
	}
	return h.resp, h.err
}
