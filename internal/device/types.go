package device

import "github.com/nerrad567/indi-watchdog/internal/bus"

// Device is one monitored device: its static identity from the device list
// plus the remote handle the broker most recently announced for it.
//
// The remote handle is guarded by the owning Registry's lock. Code outside
// Registry.ForEach must go through the Registry rather than call SetRemote
// or ClearRemote directly.
type Device struct {
	// Name is the broker device name and the registry key.
	Name string `json:"indiDeviceName"`

	// NodePath is the local hardware node, e.g. /dev/ttyUSB0. Its existence
	// is the only test of physical presence.
	NodePath string `json:"linuxDeviceName"`

	// Driver is the executable name of the broker driver serving the device.
	Driver string `json:"indiDeviceDriverName"`

	// AutoConnect requests that the watchdog keep the device connected.
	AutoConnect bool `json:"enableAutoConnect"`

	remote bus.RemoteHandle
}

// Remote returns the current remote handle, or nil when the device has not
// been announced since the last reset.
func (d *Device) Remote() bus.RemoteHandle {
	return d.remote
}

// SetRemote replaces the remote handle.
func (d *Device) SetRemote(h bus.RemoteHandle) {
	d.remote = h
}

// ClearRemote drops the remote handle.
func (d *Device) ClearRemote() {
	d.remote = nil
}

// RemoteValid reports whether a handle is held and still registered.
func (d *Device) RemoteValid() bool {
	return d.remote != nil && d.remote.Valid()
}

// RemoteConnected derives the connection state from the handle on demand.
// It is false when there is no valid handle.
func (d *Device) RemoteConnected() bool {
	return d.RemoteValid() && d.remote.Connected()
}

// Status is a point-in-time copy of a device's observable state.
type Status struct {
	Name        string `json:"name"`
	NodePath    string `json:"node_path"`
	Driver      string `json:"driver"`
	AutoConnect bool   `json:"auto_connect"`
	Announced   bool   `json:"announced"`
	Connected   bool   `json:"connected"`
}

// status must be called with the registry lock held.
func (d *Device) status() Status {
	return Status{
		Name:        d.Name,
		NodePath:    d.NodePath,
		Driver:      d.Driver,
		AutoConnect: d.AutoConnect,
		Announced:   d.RemoteValid(),
		Connected:   d.RemoteConnected(),
	}
}
