package scheduler

import (
	"context"
	"maps"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gaborage/webqueue/backoff"
)

// Content and accept type shorthands understood by the transport.
// Any other value is sent verbatim as a MIME type.
const (
	TypeJSON = "json"
	TypeForm = "form"
)

// State is a request's position in its lifecycle.
type State int32

const (
	StateNew State = iota
	StatePending
	StateInFlight
	StateRetryWait
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	case StateRetryWait:
		return "retry_wait"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the request has settled.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// RequestOptions configures a request. The zero value is a DontCare GET-style
// request with no retries, no timeout and JSON content and accept types.
type RequestOptions struct {
	Priority Priority
	// Retries is the counted retry budget.
	Retries int
	// Timeout bounds each attempt. Zero disables it.
	Timeout time.Duration
	// Headers must not contain Content-Type or Accept, duplicate keys or empty values.
	Headers     map[string]string
	Body        any
	ContentType string
	AcceptType  string
	// Backoff overrides the scheduler's default backoff for this request.
	Backoff *backoff.Config
	// Classifier overrides the scheduler's classifier for this request.
	Classifier Classifier
	// AugmentErrorResponse may enrich every failure response before it is classified.
	// It runs with the scheduler's lock held and must not call back into the scheduler.
	AugmentErrorResponse func(resp *Response)
}

// Request is one logical HTTP request. Once submitted it belongs to a single scheduler.
type Request struct {
	id          string
	ctx         context.Context
	method      string
	headers     map[string]string
	body        any
	contentType string
	acceptType  string
	timeout     time.Duration
	backoffCfg  *backoff.Config
	classifier  Classifier
	augment     func(*Response)

	url      atomic.Pointer[string]
	priority atomic.Int32
	retries  atomic.Int64
	state    atomic.Int32
	owner    atomic.Pointer[Scheduler]

	// guarded by owner.mu once submitted
	handle        *Handle
	timer         *backoff.Timer
	attempt       int
	finishHandled bool
	aborted       bool
	timedOut      bool
	cancel        context.CancelFunc
	stopTimeout   func() bool
	stopRetry     func() bool
}

// NewRequest creates an unsubmitted request.
func NewRequest(method, url string, opts RequestOptions) *Request {
	return NewRequestWithContext(context.Background(), method, url, opts)
}

// NewRequestWithContext creates an unsubmitted request whose attempts inherit the
// values of ctx (trace spans, for instance). Canceling ctx does not abort the request.
func NewRequestWithContext(ctx context.Context, method, url string, opts RequestOptions) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	r := &Request{
		id:          uuid.NewString(),
		ctx:         ctx,
		method:      strings.ToUpper(method),
		headers:     maps.Clone(opts.Headers),
		body:        opts.Body,
		contentType: opts.ContentType,
		acceptType:  opts.AcceptType,
		timeout:     opts.Timeout,
		backoffCfg:  opts.Backoff,
		classifier:  opts.Classifier,
		augment:     opts.AugmentErrorResponse,
	}
	if r.headers == nil {
		r.headers = map[string]string{}
	}
	if r.contentType == "" {
		r.contentType = TypeJSON
	}
	if r.acceptType == "" {
		r.acceptType = TypeJSON
	}
	r.url.Store(&url)
	r.priority.Store(int32(opts.Priority))
	r.retries.Store(int64(max(opts.Retries, 0)))
	return r
}

func (r *Request) ID() string { return r.id }
func (r *Request) Context() context.Context { return r.ctx }
func (r *Request) Method() string { return r.method }
func (r *Request) Body() any { return r.body }
func (r *Request) ContentType() string { return r.contentType }
func (r *Request) AcceptType() string { return r.acceptType }
func (r *Request) Timeout() time.Duration { return r.timeout }

// Headers returns a copy of the caller-supplied headers.
func (r *Request) Headers() map[string]string {
	return maps.Clone(r.headers)
}

func (r *Request) URL() string {
	return *r.url.Load()
}

// SetURL changes the target. It takes effect on the next attempt.
func (r *Request) SetURL(url string) {
	r.url.Store(&url)
}

func (r *Request) Priority() Priority {
	return Priority(r.priority.Load())
}

// RetriesLeft is the remaining counted retry budget.
func (r *Request) RetriesLeft() int {
	return int(r.retries.Load())
}

func (r *Request) State() State {
	return State(r.state.Load())
}

func (r *Request) setState(s State) {
	r.state.Store(int32(s))
}

// validate enforces the header rules before the request can be queued.
func (r *Request) validate() error {
	if r.method == "" {
		return usageError("submit", "request method is required")
	}
	if r.URL() == "" {
		return usageError("submit", "request URL is required")
	}
	seen := make(map[string]string, len(r.headers))
	for key, value := range r.headers {
		lower := strings.ToLower(key)
		switch lower {
		case "content-type":
			return usageError("submit", "header %q must be set through ContentType", key)
		case "accept":
			return usageError("submit", "header %q must be set through AcceptType", key)
		}
		if prev, dup := seen[lower]; dup {
			return usageError("submit", "headers %q and %q differ only by case", prev, key)
		}
		seen[lower] = key
		if value == "" {
			return usageError("submit", "header %q has an empty value", key)
		}
	}
	return nil
}

// snapshot captures the request for one attempt. Callers hold the owner's lock.
func (r *Request) snapshot() *Attempt {
	return &Attempt{
		RequestID:   r.id,
		Method:      r.method,
		URL:         r.URL(),
		Headers:     maps.Clone(r.headers),
		Body:        r.body,
		ContentType: r.contentType,
		AcceptType:  r.acceptType,
		Priority:    r.Priority(),
		Number:      r.attempt,
		RetriesLeft: r.RetriesLeft(),
		Timeout:     r.timeout,
	}
}

// Attempt is the immutable view of a request handed to the transport and classifier.
type Attempt struct {
	RequestID   string
	Method      string
	URL         string
	Headers     map[string]string
	Body        any
	ContentType string
	AcceptType  string
	Priority    Priority
	// Number starts at 1 for the first attempt.
	Number      int
	RetriesLeft int
	Timeout     time.Duration
}
