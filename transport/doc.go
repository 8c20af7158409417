// Package transport sends single scheduler attempts over net/http.
//
// Encoding
//   - ContentType and AcceptType accept the shorthands "json" and "form";
//     anything else is sent verbatim.
//   - String and []byte bodies are sent as is. Other bodies are JSON-encoded for
//     JSON content types and form-encoded (maps and url.Values) for form types.
//   - Content-Type is only set when a body is present.
//
// Headers
//   - Default headers apply first, then the request's own headers.
//   - A correlation header (X-Request-ID unless configured otherwise) carries the
//     ID from trace.WithID, or the scheduler's request ID.
//   - W3C trace context is injected from the attempt's span.
//
// Errors
//   - A non-nil error from Send means no status was received; the scheduler
//     reports it as a connectivity failure. Every received status, 4xx and 5xx
//     included, is returned as a response with a nil error.
package transport
