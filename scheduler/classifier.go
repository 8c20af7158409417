package scheduler

// ErrorHandling is a classifier's verdict on a failed attempt.
type ErrorHandling int

const (
	// DoNotRetry rejects the request with the failure response.
	DoNotRetry ErrorHandling = iota
	// RetryUncountedImmediately re-queues the request right away without spending retry budget.
	RetryUncountedImmediately
	// RetryUncountedWithBackoff re-queues after the request's next backoff delay without spending budget.
	RetryUncountedWithBackoff
	// RetryCountedWithBackoff re-queues after the next backoff delay if the retry budget allows,
	// spending one unit of it.
	RetryCountedWithBackoff
)

func (h ErrorHandling) String() string {
	switch h {
	case DoNotRetry:
		return "do_not_retry"
	case RetryUncountedImmediately:
		return "retry_uncounted_immediately"
	case RetryUncountedWithBackoff:
		return "retry_uncounted_with_backoff"
	case RetryCountedWithBackoff:
		return "retry_counted_with_backoff"
	default:
		return "unknown"
	}
}

// Classifier decides how a failed attempt is handled. It is called with the
// scheduler's lock held and must not call back into the scheduler.
// Canceled attempts and attempts without a status code never reach it.
type Classifier func(attempt *Attempt, resp *Response) ErrorHandling

// DefaultClassifier treats client errors (4xx) as permanent. Everything else,
// server errors included, is retried with backoff while the request's counted
// retry budget lasts; with the default budget of zero that makes 5xx permanent too.
func DefaultClassifier(_ *Attempt, resp *Response) ErrorHandling {
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return DoNotRetry
	}
	return RetryCountedWithBackoff
}
