package iothub

import "errors"

// Domain errors for the hub session package.
var (
	// ErrTwinTimeout is returned when the hub does not answer a twin
	// request within the caller's deadline.
	ErrTwinTimeout = errors.New("iothub: twin request timed out")

	// ErrMethodNotRegistered is reported when the cloud invokes a direct
	// method that no handler is registered for. The device still answers
	// the call with status 501 so the caller is not left hanging.
	ErrMethodNotRegistered = errors.New("iothub: method not registered")

	// ErrMalformedTopic is returned when an inbound topic cannot be
	// decoded (bad property bag, missing id, non-numeric status segment).
	ErrMalformedTopic = errors.New("iothub: malformed topic")
)
