package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gaborage/webqueue/internal/testutil"
	"github.com/gaborage/webqueue/logger"
	"github.com/gaborage/webqueue/scheduler"
	"github.com/gaborage/webqueue/trace"
)

const (
	testAPIKey   = "X-API-Key"
	testAPIValue = "test-key"
)

func attempt(method, target string) *scheduler.Attempt {
	return &scheduler.Attempt{
		RequestID:   "req-1",
		Method:      method,
		URL:         target,
		Headers:     map[string]string{},
		ContentType: scheduler.TypeJSON,
		AcceptType:  scheduler.TypeJSON,
		Number:      1,
	}
}

func TestSendSuccess(t *testing.T) {
	var gotHeaders nethttp.Header
	var gotBody []byte
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(nethttp.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer server.Close()

	tr := NewBuilder(logger.NewNop()).
		WithDefaultHeader(testAPIKey, testAPIValue).
		WithDefaultHeader("User-Agent", "default-agent").
		Build()

	a := attempt(nethttp.MethodPost, server.URL+testutil.TestPath)
	a.Headers = map[string]string{"User-Agent": "request-agent"}
	a.Body = map[string]any{"name": "widget"}

	resp, err := tr.Send(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Created", resp.Status)
	assert.Equal(t, `"v1"`, resp.Headers.Get("ETag"))
	assert.Equal(t, server.URL+testutil.TestPath, resp.URL)
	assert.Equal(t, nethttp.MethodPost, resp.Method)

	var out map[string]int
	require.NoError(t, resp.JSON(&out))
	assert.Equal(t, 7, out["id"])

	assert.Equal(t, testAPIValue, gotHeaders.Get(testAPIKey))
	assert.Equal(t, "request-agent", gotHeaders.Get("User-Agent"))
	assert.Equal(t, testutil.TestJSONType, gotHeaders.Get("Content-Type"))
	assert.Equal(t, testutil.TestJSONType, gotHeaders.Get("Accept"))
	assert.Equal(t, "req-1", gotHeaders.Get(trace.HeaderXRequestID))
	assert.JSONEq(t, `{"name":"widget"}`, string(gotBody))
}

func TestSendReturnsErrorStatusesAsResponses(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		nethttp.Error(w, "down", nethttp.StatusServiceUnavailable)
	}))
	defer server.Close()

	resp, err := New(logger.NewNop()).Send(context.Background(), attempt(nethttp.MethodGet, server.URL))
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "Service Unavailable", resp.Status)
	assert.Equal(t, "down\n", resp.Text())
}

func TestSendNoBodyOmitsContentType(t *testing.T) {
	var gotHeaders nethttp.Header
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotHeaders = r.Header.Clone()
		w.WriteHeader(nethttp.StatusNoContent)
	}))
	defer server.Close()

	a := attempt(nethttp.MethodGet, server.URL)
	a.AcceptType = "text/csv"
	_, err := New(logger.NewNop()).Send(context.Background(), a)
	require.NoError(t, err)
	assert.Empty(t, gotHeaders.Get("Content-Type"))
	assert.Equal(t, "text/csv", gotHeaders.Get("Accept"))
}

func TestSendFormBody(t *testing.T) {
	var gotBody string
	var gotType string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	a := attempt(nethttp.MethodPost, server.URL)
	a.ContentType = scheduler.TypeForm
	a.Body = map[string]string{"b": "two words", "a": "1"}
	_, err := New(logger.NewNop()).Send(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestFormType, gotType)
	assert.Equal(t, "a=1&b=two+words", gotBody)
}

func TestSendConnectivityError(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(nethttp.ResponseWriter, *nethttp.Request) {}))
	target := server.URL
	server.Close()

	resp, err := New(logger.NewNop()).Send(context.Background(), attempt(nethttp.MethodGet, target))
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "request execution failed")
}

func TestSendHonorsCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := New(logger.NewNop()).Send(ctx, attempt(nethttp.MethodGet, server.URL))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return after cancellation")
	}
}

func TestSendTimeout(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	tr := NewBuilder(logger.NewNop()).WithTimeout(20 * time.Millisecond).Build()
	_, err := tr.Send(context.Background(), attempt(nethttp.MethodGet, server.URL))
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestInterceptors(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("X-Seen", r.Header.Get("X-Intercepted"))
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	t.Run("request interceptor modifies request", func(t *testing.T) {
		var seen string
		tr := NewBuilder(logger.NewNop()).
			WithRequestInterceptor(func(_ context.Context, req *nethttp.Request) error {
				req.Header.Set("X-Intercepted", "yes")
				return nil
			}).
			WithResponseInterceptor(func(_ context.Context, _ *nethttp.Request, resp *nethttp.Response) error {
				seen = resp.Header.Get("X-Seen")
				return nil
			}).
			Build()
		_, err := tr.Send(context.Background(), attempt(nethttp.MethodGet, server.URL))
		require.NoError(t, err)
		assert.Equal(t, "yes", seen)
	})

	t.Run("request interceptor error aborts attempt", func(t *testing.T) {
		boom := errors.New("denied")
		tr := NewBuilder(logger.NewNop()).
			WithRequestInterceptor(func(context.Context, *nethttp.Request) error { return boom }).
			Build()
		_, err := tr.Send(context.Background(), attempt(nethttp.MethodGet, server.URL))
		var ie *InterceptorError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, StageRequest, ie.Stage)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("response interceptor error", func(t *testing.T) {
		tr := NewBuilder(logger.NewNop()).
			WithResponseInterceptor(func(context.Context, *nethttp.Request, *nethttp.Response) error {
				return errors.New("bad response")
			}).
			Build()
		_, err := tr.Send(context.Background(), attempt(nethttp.MethodGet, server.URL))
		var ie *InterceptorError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, StageResponse, ie.Stage)
	})
}

func TestBasicAuthAndCorrelationHeader(t *testing.T) {
	var user, pass, correlation string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		user, pass, _ = r.BasicAuth()
		correlation = r.Header.Get("X-Correlation-ID")
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	tr := NewBuilder(logger.NewNop()).
		WithBasicAuth("alice", "s3cret").
		WithTraceIDHeader("X-Correlation-ID").
		Build()
	ctx := trace.WithID(context.Background(), "corr-42")
	_, err := tr.Send(ctx, attempt(nethttp.MethodGet, server.URL))
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "s3cret", pass)
	assert.Equal(t, "corr-42", correlation)
}

func TestSendRecordsSpanAndPropagates(t *testing.T) {
	var traceparent string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		traceparent = r.Header.Get("traceparent")
		w.WriteHeader(nethttp.StatusBadGateway)
	}))
	defer server.Close()

	tp := testutil.NewTestTraceProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tr := NewBuilder(logger.NewNop()).WithTracerProvider(tp).Build()
	_, err := tr.Send(context.Background(), attempt(nethttp.MethodGet, server.URL))
	require.NoError(t, err)

	spans := tp.Exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "HTTP GET", span.Name)
	assert.Equal(t, oteltrace.SpanKindClient, span.SpanKind)
	assert.Equal(t, codes.Error, span.Status.Code)
	assert.Contains(t, traceparent, span.SpanContext.TraceID().String())
	assert.Contains(t, traceparent, span.SpanContext.SpanID().String())
}

func TestPayloadLoggingMasksSecrets(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "debug", false)
	tr := NewBuilder(log).
		WithPayloadLogging(4).
		WithDefaultHeader("Authorization", "Bearer secret-token").
		Build()
	_, err := tr.Send(context.Background(), attempt(nethttp.MethodGet, server.URL))
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "secret-token")
	assert.Contains(t, out, "REST client request")
	assert.Contains(t, out, "REST client response")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &entry))
	assert.Equal(t, "inbound", entry["direction"])
	assert.EqualValues(t, 200, entry["status"])
}

func TestEncodeBody(t *testing.T) {
	tests := []struct {
		name string
		body any
		mime string
		want string
	}{
		{name: "string passes through", body: `{"raw":true}`, mime: MIMEJSON, want: `{"raw":true}`},
		{name: "bytes pass through", body: []byte("abc"), mime: "text/plain", want: "abc"},
		{name: "json struct", body: struct {
			N int `json:"n"`
		}{N: 1}, mime: MIMEJSON, want: `{"n":1}`},
		{name: "vendor json", body: []int{1, 2}, mime: "application/vnd.api+json", want: `[1,2]`},
		{name: "form values", body: url.Values{"q": {"a b"}, "p": {"1", "2"}}, mime: MIMEForm, want: "p=1&p=2&q=a+b"},
		{name: "form empty value is bare key", body: map[string]any{"flag": nil, "x": 3}, mime: MIMEForm, want: "flag&x=3"},
		{name: "form string passes through", body: "a=1", mime: MIMEForm, want: "a=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, raw, err := EncodeBody(tt.body, tt.mime)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(raw))
		})
	}

	r, raw, err := EncodeBody(nil, MIMEJSON)
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Nil(t, raw)

	_, _, err = EncodeBody([]int{1}, MIMEForm)
	var ee *EncodingError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, MIMEForm, ee.ContentType)

	_, _, err = EncodeBody(struct{}{}, "text/plain")
	assert.Error(t, err)
}

func TestMapContentType(t *testing.T) {
	assert.Equal(t, MIMEJSON, MapContentType("json"))
	assert.Equal(t, MIMEForm, MapContentType("form"))
	assert.Equal(t, "text/xml", MapContentType("text/xml"))
}
