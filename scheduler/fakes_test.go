package scheduler

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type reply struct {
	resp *Response
	err  error
}

// call is one transport attempt parked until the test answers it.
type call struct {
	ctx     context.Context
	attempt *Attempt
	replies chan reply
}

func (c *call) respond(status int) {
	c.replies <- reply{resp: &Response{StatusCode: status, Status: http.StatusText(status), Headers: http.Header{}}}
}

func (c *call) fail(err error) {
	c.replies <- reply{err: err}
}

// blockingTransport parks every attempt until the test replies or the attempt is canceled.
type blockingTransport struct {
	calls  chan *call
	active atomic.Int32
	peak   atomic.Int32
	total  atomic.Int32
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{calls: make(chan *call, 128)}
}

func (b *blockingTransport) Send(ctx context.Context, a *Attempt) (*Response, error) {
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	b.total.Add(1)

	c := &call{ctx: ctx, attempt: a, replies: make(chan reply, 1)}
	b.calls <- c
	select {
	case r := <-c.replies:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingTransport) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-b.calls:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a transport call")
		return nil
	}
}

func (b *blockingTransport) expectIdle(t *testing.T) {
	t.Helper()
	select {
	case c := <-b.calls:
		t.Fatalf("unexpected transport call for %s", c.attempt.URL)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

// fakeClock records armed timers and fires them on demand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ft := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, ft)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ft.fired || ft.stopped {
			return false
		}
		ft.stopped = true
		return true
	}
}

func (c *fakeClock) armed() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, ft := range c.timers {
		if !ft.fired && !ft.stopped {
			out = append(out, ft)
		}
	}
	return out
}

// waitArmed blocks until exactly one timer is armed and returns it.
func (c *fakeClock) waitArmed(t *testing.T) *fakeTimer {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.armed()) == 1 }, waitTimeout, time.Millisecond)
	return c.armed()[0]
}

func (c *fakeClock) fire(ft *fakeTimer) {
	c.mu.Lock()
	if ft.fired || ft.stopped {
		c.mu.Unlock()
		return
	}
	ft.fired = true
	c.mu.Unlock()
	ft.f()
}

func zeroJitter() float64 { return 0 }

func newTestScheduler(tr Transport, clock *fakeClock, maxConcurrent int) *Scheduler {
	return New(tr, Options{
		MaxConcurrent: maxConcurrent,
		AfterFunc:     clock.AfterFunc,
		Random:        zeroJitter,
	})
}

func waitHandle(t *testing.T, h *Handle) (*Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	resp, err := h.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "handle did not settle")
	return resp, err
}
