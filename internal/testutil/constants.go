// Package testutil provides shared helpers for tests across webqueue packages.
package testutil

const (
	// TestError is a generic error message for test error scenarios.
	TestError = "test error"

	// TestPath is the API path used by client and transport tests.
	TestPath = "/v1/items"

	// TestJSONType is the mapped JSON content type.
	TestJSONType = "application/json"

	// TestFormType is the mapped form content type.
	TestFormType = "application/x-www-form-urlencoded"
)
