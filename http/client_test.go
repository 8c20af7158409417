package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/webqueue/backoff"
	"github.com/gaborage/webqueue/logger"
	"github.com/gaborage/webqueue/scheduler"
	"github.com/gaborage/webqueue/transport"
)

// Test constants to avoid string duplication
const (
	testAPIKey         = "X-API-Key"
	testAPIValue       = "test-key"
	testContentTypeHdr = "Content-Type"
	testJSONType       = "application/json"
	testFormType       = "application/x-www-form-urlencoded"
)

var fastBackoff = backoff.Config{Initial: time.Millisecond, Max: 5 * time.Millisecond, Growth: 2}

func newScheduler(t *testing.T, tr scheduler.Transport, maxConcurrent int) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.New(tr, scheduler.Options{MaxConcurrent: maxConcurrent, Backoff: fastBackoff})
	t.Cleanup(s.Close)
	return s
}

func newTestBuilder(t *testing.T, server *httptest.Server) *Builder {
	t.Helper()
	s := newScheduler(t, transport.New(logger.NewNop()), 5)
	return NewBuilder(s, logger.NewNop()).WithEndpoint(server.URL)
}

func TestClientVerbs(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	c := newTestBuilder(t, server).Build()
	ctx := context.Background()

	calls := []struct {
		method string
		fn     func(context.Context, *Request) (*Response, error)
	}{
		{nethttp.MethodGet, c.Get},
		{nethttp.MethodPost, c.Post},
		{nethttp.MethodPut, c.Put},
		{nethttp.MethodPatch, c.Patch},
		{nethttp.MethodDelete, c.Delete},
	}
	for _, tc := range calls {
		t.Run(tc.method, func(t *testing.T) {
			resp, err := tc.fn(ctx, &Request{URL: "/items/1"})
			require.NoError(t, err)
			assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
			assert.Equal(t, tc.method, gotMethod)
			assert.Equal(t, "/items/1", gotPath)
			assert.Equal(t, 1, resp.Stats.Attempts)
		})
	}
}

func TestClientResolveURL(t *testing.T) {
	c := &client{config: &Config{Endpoint: "https://api.example.com/v1/"}}
	assert.Equal(t, "https://api.example.com/v1/items", c.resolveURL(&Request{URL: "/items"}))
	assert.Equal(t, "https://api.example.com/v1/items", c.resolveURL(&Request{URL: "items"}))
	assert.Equal(t, "/raw", c.resolveURL(&Request{URL: "/raw", ExcludeEndpoint: true}))
	assert.Equal(t, "https://other.example.com/x", c.resolveURL(&Request{URL: "https://other.example.com/x"}))
	assert.Equal(t, "https://api.example.com/v1/", c.resolveURL(&Request{}))
}

func TestClientHeaders(t *testing.T) {
	var got nethttp.Header
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		got = r.Header.Clone()
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	c := newTestBuilder(t, server).
		WithDefaultHeader(testAPIKey, testAPIValue).
		WithDefaultHeader("User-Agent", "default-agent").
		Build()

	_, err := c.Get(context.Background(), &Request{
		URL:     "/items",
		Headers: map[string]string{"user-agent": "request-agent"},
	})
	require.NoError(t, err)
	assert.Equal(t, testAPIValue, got.Get(testAPIKey))
	assert.Equal(t, "request-agent", got.Get("User-Agent"))
	assert.Equal(t, testJSONType, got.Get("Accept"))
}

func TestClientContentTypeInference(t *testing.T) {
	var gotType string
	var gotBody string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotType = r.Header.Get(testContentTypeHdr)
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	c := newTestBuilder(t, server).Build()
	tests := []struct {
		name     string
		req      *Request
		wantType string
		wantBody string
	}{
		{name: "string body is a form", req: &Request{URL: "/f", Body: "a=1&b=2"}, wantType: testFormType, wantBody: "a=1&b=2"},
		{name: "struct body is json", req: &Request{URL: "/j", Body: map[string]int{"n": 1}}, wantType: testJSONType, wantBody: `{"n":1}`},
		{name: "bytes are opaque", req: &Request{URL: "/b", Body: []byte{1, 2}}, wantType: "application/octet-stream", wantBody: "\x01\x02"},
		{name: "explicit form map", req: &Request{URL: "/m", Body: map[string]string{"k": "v"}, ContentType: "form"}, wantType: testFormType, wantBody: "k=v"},
		{name: "no body", req: &Request{URL: "/n"}, wantType: "", wantBody: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Post(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.wantBody, gotBody)
		})
	}
}

func TestClientETag(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(nethttp.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"v":1}`))
	}))
	defer server.Close()

	c := newTestBuilder(t, server).Build()

	first, err := c.Get(context.Background(), &Request{URL: "/doc"})
	require.NoError(t, err)
	assert.False(t, first.ETagMatched)
	etag := first.Headers.Get("ETag")

	second, err := c.Get(context.Background(), &Request{URL: "/doc", ETag: etag})
	require.NoError(t, err)
	assert.True(t, second.ETagMatched)
	assert.Equal(t, nethttp.StatusNotModified, second.StatusCode)
}

func TestClientHTTPError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		hits.Add(1)
		w.WriteHeader(nethttp.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))
	defer server.Close()

	c := newTestBuilder(t, server).WithRetries(3).Build()
	resp, err := c.Get(context.Background(), &Request{URL: "/missing"})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, HTTPError))
	assert.True(t, IsHTTPStatusError(err, nethttp.StatusNotFound))
	require.NotNil(t, resp)
	assert.Equal(t, "missing", string(resp.Body))
	assert.Equal(t, int32(1), hits.Load())
}

func TestClientRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	c := newTestBuilder(t, server).WithRetries(2).Build()
	resp, err := c.Get(context.Background(), &Request{URL: "/flaky"})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Stats.Attempts)

	hits.Store(0)
	zero := 0
	_, err = c.Get(context.Background(), &Request{URL: "/flaky", Retries: &zero})
	assert.True(t, IsHTTPStatusError(err, nethttp.StatusServiceUnavailable))
}

func TestClientNetworkError(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(nethttp.ResponseWriter, *nethttp.Request) {}))
	c := newTestBuilder(t, server).Build()
	server.Close()

	_, err := c.Get(context.Background(), &Request{URL: "/gone"})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, NetworkError))
	re, ok := scheduler.AsResponseError(err)
	require.True(t, ok)
	assert.Equal(t, scheduler.StatusConnectivityError, re.Response.Status)
}

func TestClientTimeout(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	c := newTestBuilder(t, server).WithTimeout(20 * time.Millisecond).Build()
	_, err := c.Get(context.Background(), &Request{URL: "/slow"})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, TimeoutError))
	assert.Contains(t, err.Error(), "20ms")
}

func TestClientContextCancellationAborts(t *testing.T) {
	serverCanceled := make(chan struct{})
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		<-r.Context().Done()
		close(serverCanceled)
	}))
	defer server.Close()

	c := newTestBuilder(t, server).Build()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, &Request{URL: "/hang"})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, CanceledError))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-serverCanceled:
	case <-time.After(2 * time.Second):
		t.Fatal("server request was not canceled")
	}
}

func TestClientBlockUntil(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		hits.Add(1)
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	var open atomic.Bool
	gateErr := errors.New("not authenticated")
	c := newTestBuilder(t, server).
		WithBlockUntil(func(context.Context) error {
			if !open.Load() {
				return gateErr
			}
			return nil
		}).
		Build()

	_, err := c.Get(context.Background(), &Request{URL: "/x"})
	assert.True(t, IsErrorType(err, InterceptorError))
	assert.ErrorIs(t, err, gateErr)
	assert.Equal(t, int32(0), hits.Load())

	open.Store(true)
	_, err = c.Get(context.Background(), &Request{URL: "/x"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClientSuccessHooks(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	var seen []string
	hookErr := errors.New("unexpected payload")
	c := newTestBuilder(t, server).
		WithSuccessHook(func(_ context.Context, resp *Response) error {
			seen = append(seen, string(resp.Body))
			return nil
		}).
		WithSuccessHook(func(context.Context, *Response) error { return hookErr }).
		Build()

	resp, err := c.Get(context.Background(), &Request{URL: "/x"})
	require.Error(t, err)
	assert.True(t, IsErrorType(err, InterceptorError))
	assert.ErrorIs(t, err, hookErr)
	require.NotNil(t, resp)
	assert.Equal(t, []string{"payload"}, seen)
}

func TestClientValidation(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	c := newTestBuilder(t, server).Build()
	ctx := context.Background()

	_, err := c.Get(ctx, nil)
	assert.True(t, IsErrorType(err, ValidationError))

	_, err = c.Get(ctx, &Request{ExcludeEndpoint: true})
	assert.True(t, IsErrorType(err, ValidationError))

	_, err = c.Post(ctx, &Request{URL: "/x", Headers: map[string]string{"Content-Type": "text/plain"}})
	assert.True(t, IsErrorType(err, ValidationError))
	assert.ErrorIs(t, err, scheduler.ErrInvalidUse)
}

func TestClientTransportInterceptorError(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	denied := errors.New("denied")
	tr := transport.NewBuilder(logger.NewNop()).
		WithRequestInterceptor(func(context.Context, *nethttp.Request) error { return denied }).
		Build()
	c := NewBuilder(newScheduler(t, tr, 5), logger.NewNop()).WithEndpoint(server.URL).Build()

	_, err := c.Get(context.Background(), &Request{URL: "/x"})
	assert.True(t, IsErrorType(err, InterceptorError))
	assert.ErrorIs(t, err, denied)
}

func TestClientClosedScheduler(t *testing.T) {
	s := scheduler.New(transport.New(logger.NewNop()), scheduler.Options{})
	s.Close()
	c := NewClient(s, nil)

	_, err := c.Get(context.Background(), &Request{URL: "http://127.0.0.1/x"})
	assert.True(t, IsErrorType(err, CanceledError))
	assert.ErrorIs(t, err, scheduler.ErrClosed)
}

func TestClientSubmitAndReprioritize(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var order []string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.URL.Path == "/blocker" {
			<-release
		}
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	s := newScheduler(t, transport.New(logger.NewNop()), 1)
	c := NewBuilder(s, logger.NewNop()).WithEndpoint(server.URL).Build()
	ctx := context.Background()

	blocker, err := c.Submit(ctx, nethttp.MethodGet, &Request{URL: "/blocker"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	low := scheduler.Low
	first, err := c.Submit(ctx, nethttp.MethodGet, &Request{URL: "/first", Priority: &low})
	require.NoError(t, err)
	second, err := c.Submit(ctx, nethttp.MethodGet, &Request{URL: "/second", Priority: &low})
	require.NoError(t, err)
	dropped, err := c.Submit(ctx, nethttp.MethodGet, &Request{URL: "/dropped"})
	require.NoError(t, err)

	require.NoError(t, second.SetPriority(scheduler.Critical))
	require.NoError(t, dropped.Abort())
	assert.NotEmpty(t, dropped.ID())

	close(release)
	for _, call := range []*Call{blocker, first, second} {
		_, err := call.Wait(ctx)
		require.NoError(t, err)
	}
	_, err = dropped.Wait(ctx)
	assert.True(t, IsErrorType(err, CanceledError))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/blocker", "/second", "/first"}, order)
}

func TestIsErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"network", NewNetworkError("x", errors.New("y")), NetworkError},
		{"timeout", NewTimeoutError("x", time.Second), TimeoutError},
		{"canceled", NewCanceledError("x", nil), CanceledError},
		{"http", NewHTTPError("x", 500, nil), HTTPError},
		{"validation", NewValidationError("x", "field"), ValidationError},
		{"interceptor", NewInterceptorError("x", "request", errors.New("y")), InterceptorError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, IsErrorType(tt.err, tt.want))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
	assert.False(t, IsErrorType(nil, HTTPError))
	assert.False(t, IsErrorType(errors.New("plain"), HTTPError))
}
