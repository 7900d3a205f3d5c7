package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/indi-watchdog/internal/bus"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry holds the monitored devices keyed by name.
//
// The key set is fixed at construction: broker announcements for names that
// are not in the device list are logged and ignored. A single mutex guards
// every record, and ForEach holds it for the whole traversal so a sweep
// never observes a half-applied broker event.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
	order   []string // sorted names, for deterministic sweeps
	logger  Logger
}

// NewRegistry creates a registry over devices.
//
// Parameters:
//   - devices: Device list entries; names must be unique and non-empty
//
// Returns:
//   - *Registry: Registry with every handle absent
//   - error: ErrInvalidDevice or ErrDuplicateDevice
func NewRegistry(devices []*Device) (*Registry, error) {
	r := &Registry{
		devices: make(map[string]*Device, len(devices)),
		order:   make([]string, 0, len(devices)),
		logger:  noopLogger{},
	}

	for _, d := range devices {
		if d == nil || d.Name == "" {
			return nil, fmt.Errorf("%w: empty device name", ErrInvalidDevice)
		}
		if _, exists := r.devices[d.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDevice, d.Name)
		}
		d.remote = nil
		r.devices[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	sort.Strings(r.order)

	return r, nil
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// UpsertRemoteHandle replaces the remote handle of a known device.
//
// Returns false, after logging, when name is not in the registry.
func (r *Registry) UpsertRemoteHandle(name string, h bus.RemoteHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[name]
	if !ok {
		r.logger.Debug("ignoring unmonitored device", "device", name)
		return false
	}

	d.SetRemote(h)
	r.logger.Debug("remote handle updated", "device", name)
	return true
}

// ClearRemoteHandle drops the remote handle of a known device. It is
// idempotent and returns false, after logging, when name is unknown.
func (r *Registry) ClearRemoteHandle(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[name]
	if !ok {
		r.logger.Debug("ignoring removal of unmonitored device", "device", name)
		return false
	}

	d.ClearRemote()
	return true
}

// ForEach calls fn for every device in name order while holding the
// registry lock. fn may read and clear the device's handle directly and
// must not call other Registry methods. Returning false stops the traversal.
func (r *Registry) ForEach(fn func(d *Device) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		if !fn(r.devices[name]) {
			return
		}
	}
}

// ResetRemoteHandles drops every remote handle. Used when a session is
// torn down and all broker registrations become meaningless.
func (r *Registry) ResetRemoteHandles() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.devices {
		d.ClearRemote()
	}
}

// Snapshot returns the observable state of every device in name order.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.devices[name].status())
	}
	return out
}

// Get returns the observable state of one device.
func (r *Registry) Get(name string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[name]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return d.status(), nil
}

// Contains reports whether name is a monitored device.
func (r *Registry) Contains(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.devices[name]
	return ok
}

// DriverOf returns the driver serving name.
func (r *Registry) DriverOf(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[name]
	if !ok {
		return "", false
	}
	return d.Driver, true
}

// HasDriver reports whether any monitored device is served by driver.
func (r *Registry) HasDriver(driver string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.devices {
		if d.Driver == driver {
			return true
		}
	}
	return false
}

// Len returns the number of monitored devices.
func (r *Registry) Len() int {
	return len(r.order)
}

// Names returns the monitored device names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
