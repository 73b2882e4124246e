package telemetry

import "errors"

// Sentinel errors returned by Source implementations.
var (
	ErrNotFound          = errors.New("telemetry: handle not found")
	ErrTransient         = errors.New("telemetry: transient failure")
	ErrMalformedResponse = errors.New("telemetry: malformed response")
	ErrEmptyHandle       = errors.New("telemetry: empty handle")
)
