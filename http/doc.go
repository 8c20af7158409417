// Package http is a REST client whose calls are queued, prioritized and
// retried by a scheduler.Scheduler.
//
// Requests
//   - Relative URLs are joined to the configured endpoint unless
//     ExcludeEndpoint is set.
//   - Without an explicit ContentType, string bodies are sent as forms,
//     []byte bodies as application/octet-stream and everything else as JSON.
//   - Setting ETag sends If-None-Match; a 304 answer is reported through
//     Response.ETagMatched.
//
// Gating and hooks
//   - A BlockUntil function is awaited before every request is submitted.
//   - Success hooks run on every successful response and may veto it.
//
// Cancellation
//   - Canceling the context of a blocking call aborts the underlying request.
//   - Submit returns a Call that can be aborted, reprioritized or awaited later.
//
// Errors
//   - Failures are ClientErrors: network (no status received), timeout,
//     canceled, http (a non-success status), validation and interceptor.
package http
