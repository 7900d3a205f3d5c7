package restart

import "errors"

var (
	// ErrChannelUnavailable is returned when the restart channel cannot be
	// opened, typically because no indiserver is reading the FIFO.
	ErrChannelUnavailable = errors.New("restart: channel unavailable")

	// ErrInvalidDriver is returned for empty or path-like driver names.
	ErrInvalidDriver = errors.New("restart: invalid driver name")
)
