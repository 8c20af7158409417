package scheduler

import (
	"encoding/json"
	"errors"
	"net/http"
)

// StatusConnectivityError is the status text of failures that never produced a status code.
const StatusConnectivityError = "connectivity error"

// Response is the outcome of a request. Failure responses also carry the
// cancellation flags.
type Response struct {
	URL        string
	Method     string
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	// Attempts is the number of transport attempts made, including this one.
	Attempts int
	Canceled bool
	TimedOut bool
}

// IsSuccessStatus reports whether code completes a request successfully.
func IsSuccessStatus(code int) bool {
	return (code >= 200 && code < 300) || code == http.StatusNotModified
}

// OK reports whether the response is a success.
func (r *Response) OK() bool {
	return IsSuccessStatus(r.StatusCode)
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if len(r.Body) == 0 {
		return errors.New("response body is empty")
	}
	return json.Unmarshal(r.Body, v)
}

func connectivityResponse(a *Attempt) *Response {
	return &Response{
		URL:     a.URL,
		Method:  a.Method,
		Status:  StatusConnectivityError,
		Headers: http.Header{},
	}
}
