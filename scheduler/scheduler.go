package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/gaborage/webqueue/backoff"
	"github.com/gaborage/webqueue/internal/tracking"
	"github.com/gaborage/webqueue/logger"
)

// DefaultMaxConcurrent is the number of requests allowed in flight when Options leaves it unset.
const DefaultMaxConcurrent = 5

// AfterFunc arms f to run once after d and returns a function that disarms it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Options configures a Scheduler. Zero values fall back to defaults.
type Options struct {
	// MaxConcurrent bounds the in-flight set. An aborted attempt leaves the set
	// at once, so its send may still be unwinding while the slot is reused.
	MaxConcurrent int
	// Backoff is used by requests that do not carry their own.
	Backoff backoff.Config
	// Classifier is used by requests that do not carry their own.
	Classifier Classifier
	// DispatchRate caps attempt starts per second. Zero disables the limit.
	DispatchRate  float64
	DispatchBurst int

	Logger        logger.Logger
	MeterProvider metric.MeterProvider
	// AfterFunc schedules timeouts and retries. Tests substitute a fake clock.
	AfterFunc AfterFunc
	// Random is the jitter source of the per-request backoff timers.
	Random func() float64
}

func (o *Options) setDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.Backoff == (backoff.Config{}) {
		o.Backoff = backoff.DefaultConfig()
	}
	if o.Classifier == nil {
		o.Classifier = DefaultClassifier
	}
	if o.DispatchRate > 0 && o.DispatchBurst <= 0 {
		o.DispatchBurst = 1
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	if o.AfterFunc == nil {
		o.AfterFunc = timeAfterFunc
	}
}

// Stats is a point-in-time view of the scheduler's bookkeeping.
type Stats struct {
	Pending  int
	InFlight int
	// Waiting counts requests sleeping on a backoff delay before re-queueing.
	Waiting int
}

// Scheduler owns a pending queue and an in-flight set and moves requests
// between them. All bookkeeping is serialized by one mutex; only transport
// calls run concurrently.
type Scheduler struct {
	transport Transport
	opts      Options
	log       logger.Logger
	metrics   *tracking.Metrics
	limiter   *rate.Limiter

	mu           sync.Mutex
	queue        *pendingQueue
	inflight     map[*Request]struct{}
	waiting      map[*Request]struct{}
	recheckArmed bool
	closed       bool
}

// New creates a scheduler that sends through transport.
func New(transport Transport, opts Options) *Scheduler {
	opts.setDefaults()
	s := &Scheduler{
		transport: transport,
		opts:      opts,
		log:       opts.Logger,
		metrics:   tracking.New(opts.MeterProvider),
		queue:     newPendingQueue(),
		inflight:  make(map[*Request]struct{}),
		waiting:   make(map[*Request]struct{}),
	}
	if opts.DispatchRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.DispatchRate), opts.DispatchBurst)
	}
	return s
}

// MaxConcurrent returns the in-flight bound.
func (s *Scheduler) MaxConcurrent() int {
	return s.opts.MaxConcurrent
}

// Submit validates and queues req, then starts as many pending requests as the
// concurrency bound allows. The returned handle settles when req succeeds or
// fails permanently.
func (s *Scheduler) Submit(req *Request) (*Handle, error) {
	if req == nil {
		return nil, usageError("submit", "request cannot be nil")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if !req.owner.CompareAndSwap(nil, s) {
		return nil, usageError("submit", "request %s was already submitted", req.id)
	}

	req.handle = newHandle()
	cfg := s.opts.Backoff
	if req.backoffCfg != nil {
		cfg = *req.backoffCfg
	}
	var timerOpts []backoff.Option
	if s.opts.Random != nil {
		timerOpts = append(timerOpts, backoff.WithRandom(s.opts.Random))
	}
	req.timer = backoff.New(cfg, timerOpts...)

	s.metrics.Submitted(req.ctx, req.Priority().String())
	s.log.Debug().
		Str("request_id", req.id).
		Str("method", req.method).
		Str("url", req.URL()).
		Str("priority", req.Priority().String()).
		Msg("Request submitted")

	s.enqueueLocked(req)
	s.dispatchLocked()
	return req.handle, nil
}

// Abort cancels req. A pending or retry-waiting request is rejected without
// contacting the transport; an in-flight one has its context canceled and is
// rejected right away. Aborting a settled request is a no-op. Aborting twice,
// or aborting a request this scheduler never accepted, is invalid use.
func (s *Scheduler) Abort(req *Request) error {
	if req == nil {
		return usageError("abort", "request cannot be nil")
	}
	if req.owner.Load() != s {
		return usageError("abort", "request %s was not submitted to this scheduler", req.id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.aborted {
		return usageError("abort", "request %s was already aborted", req.id)
	}
	if req.State().Terminal() {
		return nil
	}
	s.abortLocked(req)
	return nil
}

// SetPriority changes req's priority. A pending request moves to the back of
// its new priority group; otherwise the value applies when it is next queued.
func (s *Scheduler) SetPriority(req *Request, p Priority) error {
	if req == nil {
		return usageError("set priority", "request cannot be nil")
	}
	owner := req.owner.Load()
	if owner == nil {
		req.priority.Store(int32(p))
		return nil
	}
	if owner != s {
		return usageError("set priority", "request %s belongs to another scheduler", req.id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Priority() == p {
		return nil
	}
	if s.queue.Remove(req) {
		req.priority.Store(int32(p))
		s.queue.Push(req)
	} else {
		req.priority.Store(int32(p))
	}
	s.log.Debug().
		Str("request_id", req.id).
		Str("priority", p.String()).
		Str("state", req.State().String()).
		Msg("Request priority changed")
	return nil
}

// Stats reports queue sizes.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Pending:  s.queue.Len(),
		InFlight: len(s.inflight),
		Waiting:  len(s.waiting),
	}
}

// Close stops admission and aborts every request that has not settled.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	victims := s.queue.Requests()
	for req := range s.inflight {
		victims = append(victims, req)
	}
	for req := range s.waiting {
		victims = append(victims, req)
	}
	for _, req := range victims {
		if !req.aborted && !req.State().Terminal() {
			s.abortLocked(req)
		}
	}
	s.log.Debug().Int("aborted", len(victims)).Msg("Scheduler closed")
}

func (s *Scheduler) enqueueLocked(req *Request) {
	req.setState(StatePending)
	s.queue.Push(req)
	s.metrics.Queued(req.ctx, 1)
}

// dispatchLocked starts pending requests while slots are free.
func (s *Scheduler) dispatchLocked() {
	for !s.closed && s.queue.Len() > 0 && len(s.inflight) < s.opts.MaxConcurrent {
		if !s.admitLocked() {
			return
		}
		req, _ := s.queue.Pop()
		s.metrics.Queued(req.ctx, -1)
		s.startLocked(req)
	}
}

// admitLocked consumes a dispatch token, arming a recheck when none is available.
func (s *Scheduler) admitLocked() bool {
	if s.limiter == nil {
		return true
	}
	now := time.Now()
	r := s.limiter.ReserveN(now, 1)
	if !r.OK() {
		return true
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return true
	}
	r.CancelAt(now)
	if !s.recheckArmed {
		s.recheckArmed = true
		s.opts.AfterFunc(delay, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.recheckArmed = false
			s.dispatchLocked()
		})
	}
	return false
}

func (s *Scheduler) startLocked(req *Request) {
	req.attempt++
	req.finishHandled = false
	req.setState(StateInFlight)
	s.inflight[req] = struct{}{}
	s.metrics.InFlight(req.ctx, 1)

	ctx, cancel := context.WithCancel(context.WithoutCancel(req.ctx))
	req.cancel = cancel

	attempt := req.attempt
	if req.timeout > 0 {
		req.stopTimeout = s.opts.AfterFunc(req.timeout, func() {
			s.onTimeout(req, attempt)
		})
	}

	snap := req.snapshot()
	s.log.Debug().
		Str("request_id", req.id).
		Str("method", snap.Method).
		Str("url", snap.URL).
		Int("attempt", attempt).
		Int("in_flight", len(s.inflight)).
		Msg("Request dispatched")

	go s.execute(ctx, req, snap)
}

func (s *Scheduler) execute(ctx context.Context, req *Request, snap *Attempt) {
	start := time.Now()
	resp, err := s.send(ctx, snap)
	status := 0
	if err == nil && resp != nil {
		status = resp.StatusCode
	}
	s.metrics.Attempt(req.ctx, snap.Method, status, time.Since(start))

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.State() != StateInFlight {
		return
	}
	s.finishLocked(req, snap.Number, resp, err)
}

func (s *Scheduler) send(ctx context.Context, snap *Attempt) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str("request_id", snap.RequestID).
				Interface("panic", r).
				Msg("Transport panicked")
			resp = nil
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	if s.transport == nil {
		return nil, errors.New("no transport configured")
	}
	return s.transport.Send(ctx, snap)
}

func (s *Scheduler) onTimeout(req *Request, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.attempt != attempt || req.State() != StateInFlight || req.aborted {
		return
	}
	req.stopTimeout = nil
	req.timedOut = true
	s.log.Warn().
		Str("request_id", req.id).
		Dur("timeout", req.timeout).
		Msg("Request timed out")
	s.abortLocked(req)
}

func (s *Scheduler) onRetryTimer(req *Request, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.attempt != attempt || req.State() != StateRetryWait {
		return
	}
	req.stopRetry = nil
	delete(s.waiting, req)
	s.enqueueLocked(req)
	s.dispatchLocked()
}

func (s *Scheduler) abortLocked(req *Request) {
	req.aborted = true
	if req.cancel != nil {
		req.cancel()
	}
	s.finishLocked(req, req.attempt, nil, context.Canceled)
}

// finishLocked is the single completion path for transport results, aborts and timeouts.
func (s *Scheduler) finishLocked(req *Request, attempt int, resp *Response, err error) {
	if req.attempt != attempt || req.finishHandled || req.State().Terminal() {
		return
	}
	req.finishHandled = true
	s.detachLocked(req)

	snap := req.snapshot()
	if err != nil || resp == nil {
		resp = connectivityResponse(snap)
	}
	if resp.URL == "" {
		resp.URL = snap.URL
	}
	if resp.Method == "" {
		resp.Method = snap.Method
	}
	resp.Attempts = req.attempt

	if !req.aborted && err == nil && resp.OK() {
		s.settleLocked(req, resp, nil, tracking.OutcomeSuccess)
		s.dispatchLocked()
		return
	}

	resp.Canceled = req.aborted
	resp.TimedOut = req.timedOut
	if req.augment != nil {
		req.augment(resp)
	}

	if resp.Canceled || resp.StatusCode == 0 {
		s.rejectLocked(req, resp, err)
		s.dispatchLocked()
		return
	}

	classify := req.classifier
	if classify == nil {
		classify = s.opts.Classifier
	}
	disposition := classify(snap, resp)
	if s.shouldRetryLocked(req, disposition) {
		s.retryLocked(req, disposition, resp)
	} else {
		s.rejectLocked(req, resp, nil)
	}
	s.dispatchLocked()
}

// detachLocked removes req from whichever container currently holds it.
func (s *Scheduler) detachLocked(req *Request) {
	if _, ok := s.inflight[req]; ok {
		delete(s.inflight, req)
		s.metrics.InFlight(req.ctx, -1)
	}
	if s.queue.Remove(req) {
		s.metrics.Queued(req.ctx, -1)
	}
	delete(s.waiting, req)
	if req.stopTimeout != nil {
		req.stopTimeout()
		req.stopTimeout = nil
	}
	if req.stopRetry != nil {
		req.stopRetry()
		req.stopRetry = nil
	}
	if req.cancel != nil {
		req.cancel()
		req.cancel = nil
	}
}

func (s *Scheduler) shouldRetryLocked(req *Request, disposition ErrorHandling) bool {
	switch disposition {
	case RetryUncountedImmediately, RetryUncountedWithBackoff:
		return true
	case RetryCountedWithBackoff:
		if req.retries.Load() > 0 {
			req.retries.Add(-1)
			return true
		}
	}
	return false
}

func (s *Scheduler) retryLocked(req *Request, disposition ErrorHandling, resp *Response) {
	req.finishHandled = false
	s.metrics.Retried(req.ctx, disposition.String())

	if disposition == RetryUncountedImmediately {
		s.log.Warn().
			Str("request_id", req.id).
			Int("status", resp.StatusCode).
			Int("attempt", req.attempt).
			Msg("Retrying request immediately")
		s.enqueueLocked(req)
		return
	}

	delay := req.timer.Next()
	req.setState(StateRetryWait)
	s.waiting[req] = struct{}{}
	attempt := req.attempt
	req.stopRetry = s.opts.AfterFunc(delay, func() {
		s.onRetryTimer(req, attempt)
	})
	s.log.Warn().
		Str("request_id", req.id).
		Int("status", resp.StatusCode).
		Int("attempt", attempt).
		Int("retries_left", req.RetriesLeft()).
		Dur("delay", delay).
		Msg("Retrying request after backoff")
}

func (s *Scheduler) rejectLocked(req *Request, resp *Response, cause error) {
	outcome := tracking.OutcomeFailure
	if resp.Canceled {
		cause = nil
		outcome = tracking.OutcomeCanceled
		if resp.TimedOut {
			outcome = tracking.OutcomeTimeout
		}
	}
	rerr := &ResponseError{Response: resp, Cause: cause}
	if outcome == tracking.OutcomeFailure {
		s.log.Error().
			Err(rerr).
			Str("request_id", req.id).
			Int("status", resp.StatusCode).
			Int("attempts", req.attempt).
			Msg("Request failed")
	} else {
		s.log.Debug().
			Str("request_id", req.id).
			Str("outcome", outcome).
			Msg("Request canceled")
	}
	s.settleLocked(req, resp, rerr, outcome)
}

func (s *Scheduler) settleLocked(req *Request, resp *Response, err error, outcome string) {
	if err == nil {
		req.setState(StateSucceeded)
	} else {
		req.setState(StateFailed)
	}
	if req.handle.settle(resp, err) {
		s.metrics.Completed(req.ctx, outcome)
	}
}
