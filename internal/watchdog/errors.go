package watchdog

import "errors"

var (
	// ErrConnectTimeout is returned when the broker is not ready within the
	// connect timeout.
	ErrConnectTimeout = errors.New("watchdog: connect timeout")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("watchdog: already running")

	// ErrUnknownDriver is returned by ForceRestart for drivers that serve
	// no monitored device.
	ErrUnknownDriver = errors.New("watchdog: unknown driver")
)
