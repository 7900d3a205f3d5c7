package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDuplicateDevice) {
//	    // fix the device list
//	}
var (
	// ErrUnknownDevice is returned when a name is not in the registry.
	ErrUnknownDevice = errors.New("device: unknown device")

	// ErrDuplicateDevice is returned when two entries share a name.
	ErrDuplicateDevice = errors.New("device: duplicate name")

	// ErrInvalidDevice is returned when a device list entry fails validation.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrNoDevices is returned when a device list is empty.
	ErrNoDevices = errors.New("device: no devices configured")
)
