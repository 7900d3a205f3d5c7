package indiserver

import "errors"

var (
	// ErrAlreadyRunning is returned by Start while the server is running.
	ErrAlreadyRunning = errors.New("indiserver: already running")

	// ErrNotFIFO is returned when the FIFO path exists but is not a named pipe.
	ErrNotFIFO = errors.New("indiserver: path exists and is not a FIFO")

	// ErrTooManyRestarts is recorded when MaxRestartAttempts is exhausted.
	ErrTooManyRestarts = errors.New("indiserver: maximum restart attempts reached")
)
