package bus

import "errors"

// Errors returned by Session implementations.
var (
	// ErrNotConnected is returned when a request is made without a ready broker link.
	ErrNotConnected = errors.New("bus: not connected")

	// ErrInvalidHandle is returned when a handle is nil or no longer registered.
	ErrInvalidHandle = errors.New("bus: invalid device handle")

	// ErrNoConnectionProperty is returned when a device has no usable
	// CONNECTION switch property.
	ErrNoConnectionProperty = errors.New("bus: connection property missing")

	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("bus: session closed")
)
