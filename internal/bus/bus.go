package bus

// RemoteHandle is the broker-side registration of a device.
//
// A handle is only meaningful while the session that produced it is alive.
// Implementations are read concurrently by the event and sweep goroutines
// and must be safe for concurrent use.
type RemoteHandle interface {
	// Name is the device name the broker announced.
	Name() string

	// Valid reports whether the registration is still live on the broker.
	Valid() bool

	// Connected reports whether the device's CONNECTION switch has its
	// CONNECT member on. A missing connection property reads as false.
	Connected() bool
}

// Property identifies a single property of a broker device.
type Property struct {
	Device string
	Name   string
	// Kind is the vector type: Switch, Number, Text, Light or BLOB.
	Kind string
}

// Handlers receives asynchronous broker events.
//
// Any field may be nil. Handlers are invoked from the session's reader
// goroutine, one at a time, and must not call back into the session
// synchronously in a way that waits on further events.
type Handlers struct {
	DeviceAnnounced  func(h RemoteHandle)
	DeviceRemoved    func(name string)
	PropertyDefined  func(p Property)
	PropertyUpdated  func(p Property)
	PropertyRemoved  func(p Property)
	ConnectionFailed func(err error)
}

// Session is a single connection to the device-management broker.
//
// A Session is created once with its Handlers bound and may be connected
// repeatedly. Closing it discards all subscriptions; a closed session is
// replaced, never reused.
type Session interface {
	// Connect starts a connection attempt in the background and returns
	// immediately. Completion is observed through IsConnected or the
	// ConnectionFailed handler.
	Connect()

	// IsConnected reports whether the broker link is ready.
	IsConnected() bool

	// SendConnection asks the broker to connect or disconnect the device
	// behind h. A nil error means the request was sent, not that the
	// device changed state.
	SendConnection(h RemoteHandle, connect bool) error

	// Close tears the session down. No handlers fire after Close returns.
	Close() error
}

// Dialer builds a fresh, unconnected Session bound to handlers.
type Dialer func(handlers Handlers) Session
