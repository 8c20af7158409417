// Package scheduler admits HTTP requests into a priority queue, runs at most a
// configured number of them at once against a Transport, and retries failures
// according to a pluggable classification policy.
//
// Admission
//   - Submit inserts a request after every pending request of equal or higher
//     priority, so equal priorities dispatch in submission order.
//   - After every submission and every completion the scheduler starts pending
//     requests, highest priority first, while fewer than MaxConcurrent are in flight.
//   - An optional dispatch rate further throttles how fast requests start.
//
// Completion
//   - Each request owns a Handle that settles exactly once, no matter how many
//     times the transport reports back for it.
//   - 2xx and 304 responses resolve the handle.
//   - Canceled requests and failures without a status code (connectivity errors)
//     are rejected immediately without consulting the classifier.
//   - Other failures are classified: DoNotRetry rejects, RetryCountedWithBackoff
//     spends one unit of the request's retry budget, and the uncounted outcomes
//     retry without touching the budget.
//
// Backoff
//   - Every request carries its own backoff.Timer, so delays grow per request
//     rather than globally. Immediate retries skip the timer.
//
// Invalid use (aborting twice, submitting twice, reserved or duplicate headers)
// is reported synchronously as a *UsageError wrapping ErrInvalidUse.
package scheduler
