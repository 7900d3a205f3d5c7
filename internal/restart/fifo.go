package restart

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// FIFORestarter restarts drivers through the indiserver control FIFO.
//
// indiserver started with -f reads commands from a named pipe; a restart is
// a "stop" followed by a "start" of the same driver path.
type FIFORestarter struct {
	binPath  string
	fifoPath string
	probe    ProcessProbe
	logger   Logger
}

// NewFIFORestarter creates a restarter writing to fifoPath for drivers
// installed under binPath.
func NewFIFORestarter(binPath, fifoPath string) *FIFORestarter {
	return &FIFORestarter{
		binPath:  binPath,
		fifoPath: fifoPath,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (f *FIFORestarter) SetLogger(logger Logger) {
	f.logger = logger
}

// SetProcessProbe makes each restart look up the driver's running PIDs
// first and report them in its Delivery. A nil probe disables it.
func (f *FIFORestarter) SetProcessProbe(p ProcessProbe) {
	f.probe = p
}

// DriverPath returns the absolute path passed to indiserver for driver.
func (f *FIFORestarter) DriverPath(driver string) string {
	return filepath.Join(f.binPath, driver)
}

// Command returns the FIFO payload that restarts driver.
func (f *FIFORestarter) Command(driver string) string {
	path := f.DriverPath(driver)
	return "stop " + path + "\n" + "start " + path + "\n"
}

// Restart writes the stop/start pair for driver to the FIFO.
//
// The FIFO is opened non-blocking and never created, so a missing FIFO or
// one with no reader fails fast with ErrChannelUnavailable instead of
// hanging the caller. The returned Delivery is filled in even on a failed
// write so the attempt can be recorded.
func (f *FIFORestarter) Restart(driver string) (Delivery, error) {
	if driver == "" || strings.ContainsAny(driver, "/\n") {
		return Delivery{}, fmt.Errorf("%w: %q", ErrInvalidDriver, driver)
	}

	delivery := Delivery{DriverPath: f.DriverPath(driver)}
	if f.probe != nil {
		pids, err := f.probe.PIDs(driver)
		if err != nil {
			f.logger.Warn("listing driver processes", "driver", driver, "error", err)
		}
		delivery.PIDs = pids
	}

	file, err := os.OpenFile(f.fifoPath, os.O_WRONLY|os.O_APPEND|syscall.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENXIO) {
			return delivery, fmt.Errorf("%w: %s: %v", ErrChannelUnavailable, f.fifoPath, err)
		}
		return delivery, fmt.Errorf("%w: opening %s: %v", ErrChannelUnavailable, f.fifoPath, err)
	}
	defer file.Close()

	if _, err := file.WriteString(f.Command(driver)); err != nil {
		return delivery, fmt.Errorf("writing restart command: %w", err)
	}

	f.logger.Info("driver restart sent", "driver", driver, "path", delivery.DriverPath, "pids", delivery.PIDs)
	return delivery, nil
}
