package indi

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/indi-watchdog/internal/bus"
)

// Default timeouts for INDI server communication.
const (
	// defaultConnectTimeout bounds dialing plus the getProperties handshake.
	defaultConnectTimeout = 5 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Config holds client settings.
type Config struct {
	// Address is host:port of the INDI server.
	Address string

	// ConnectTimeout bounds one dial attempt. Default: 5s
	ConnectTimeout time.Duration

	// WriteTimeout bounds one request write. Default: 5s
	WriteTimeout time.Duration
}

// Stats holds client counters.
type Stats struct {
	Connects     uint64
	Disconnects  uint64
	ElementsRx   uint64
	RequestsTx   uint64
	LastActivity time.Time
}

// Client is an INDI protocol client implementing bus.Session.
//
// Connect dials in the background. Once connected the client sends
// getProperties and mirrors every device the server defines. Broker events
// are delivered to the bound handlers from the reader goroutine. A dropped
// link invalidates every device and reports DeviceRemoved for each before
// ConnectionFailed; calling Connect again redials.
type Client struct {
	cfg      Config
	handlers bus.Handlers
	logger   Logger

	connMu     sync.RWMutex
	conn       net.Conn
	connected  bool
	connecting bool

	devicesMu sync.Mutex
	devices   map[string]*Device

	// dispatchMu serialises handler calls across the dial and read goroutines.
	dispatchMu sync.Mutex

	writeMu sync.Mutex

	done   *closeOnce
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup

	connects     atomic.Uint64
	disconnects  atomic.Uint64
	elementsRx   atomic.Uint64
	requestsTx   atomic.Uint64
	lastActivity atomic.Int64
}

var _ bus.Session = (*Client)(nil)

// NewClient creates an unconnected client bound to handlers.
func NewClient(cfg Config, handlers bus.Handlers) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		handlers: handlers,
		logger:   noopLogger{},
		devices:  make(map[string]*Device),
		done:     newCloseOnce(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// NewDialer returns a bus.Dialer building clients for cfg.
func NewDialer(cfg Config, logger Logger) bus.Dialer {
	return func(handlers bus.Handlers) bus.Session {
		c := NewClient(cfg, handlers)
		if logger != nil {
			c.SetLogger(logger)
		}
		return c
	}
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// Connect starts a background connection attempt. It is a no-op while an
// attempt is running, while connected, or after Close.
func (c *Client) Connect() {
	if c.isClosed() {
		return
	}

	c.connMu.Lock()
	if c.connected || c.connecting {
		c.connMu.Unlock()
		return
	}
	c.connecting = true
	c.connMu.Unlock()

	c.wg.Add(1)
	go c.dial()
}

// IsConnected returns true once the handshake has been sent.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// SendConnection sends a CONNECTION switch request for h's device.
func (c *Client) SendConnection(h bus.RemoteHandle, connect bool) error {
	if c.isClosed() {
		return bus.ErrSessionClosed
	}
	if h == nil {
		return bus.ErrInvalidHandle
	}

	c.devicesMu.Lock()
	d, ok := c.devices[h.Name()]
	c.devicesMu.Unlock()
	if !ok || !d.Valid() {
		return fmt.Errorf("%w: %s", bus.ErrInvalidHandle, h.Name())
	}
	if !d.hasConnectionSwitch() {
		return fmt.Errorf("%w: %s", bus.ErrNoConnectionProperty, h.Name())
	}

	return c.write(connectionRequest(d.Name(), connect))
}

// Close tears the session down and waits for its goroutines. No handler
// fires after Close returns. Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()
	c.cancel()

	c.connMu.Lock()
	conn := c.conn
	c.connected = false
	c.connMu.Unlock()

	if conn != nil {
		conn.Close() //nolint:errcheck // unblocks the reader
	}

	c.wg.Wait()

	c.devicesMu.Lock()
	for _, d := range c.devices {
		d.invalidate()
	}
	c.devices = make(map[string]*Device)
	c.devicesMu.Unlock()

	c.logger.Debug("indi session closed", "address", c.cfg.Address)
	return nil
}

// Devices returns the devices currently defined on the server.
func (c *Client) Devices() []*Device {
	c.devicesMu.Lock()
	defer c.devicesMu.Unlock()

	out := make([]*Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}
	return out
}

// Stats returns current counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connects:     c.connects.Load(),
		Disconnects:  c.disconnects.Load(),
		ElementsRx:   c.elementsRx.Load(),
		RequestsTx:   c.requestsTx.Load(),
		LastActivity: time.Unix(0, c.lastActivity.Load()),
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

func (c *Client) dial() {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err == nil {
		err = c.handshake(conn)
		if err != nil {
			conn.Close() //nolint:errcheck // handshake already failed
		}
	}
	if err != nil {
		c.connMu.Lock()
		c.connecting = false
		c.connMu.Unlock()

		if c.isClosed() {
			return
		}
		c.logger.Debug("indi connect attempt failed", "address", c.cfg.Address, "error", err)
		c.emit(func() {
			if c.handlers.ConnectionFailed != nil {
				c.handlers.ConnectionFailed(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
			}
		})
		return
	}

	c.connMu.Lock()
	if c.isClosed() {
		c.connecting = false
		c.connMu.Unlock()
		conn.Close() //nolint:errcheck // closed while dialing
		return
	}
	c.conn = conn
	c.connected = true
	c.connecting = false
	c.connMu.Unlock()

	c.connects.Add(1)
	c.touch()
	c.logger.Info("connected to indi server", "address", c.cfg.Address)

	c.wg.Add(1)
	go c.readLoop(conn)
}

func (c *Client) handshake(conn net.Conn) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	data, err := xml.Marshal(getProperties{Version: ProtocolVersion})
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("sending getProperties: %w", err)
	}
	return nil
}

func (c *Client) write(v any) error {
	data, err := xml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	c.connMu.RLock()
	conn, connected := c.conn, c.connected
	c.connMu.RUnlock()
	if conn == nil || !connected {
		return bus.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}

	c.requestsTx.Add(1)
	c.touch()
	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	dec := xml.NewDecoder(conn)
	dec.Strict = false

	var err error
	for {
		var tok xml.Token
		tok, err = dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if err = c.handleElement(dec, start); err != nil {
			break
		}
	}

	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	c.connMu.Unlock()
	conn.Close() //nolint:errcheck // already broken

	if c.isClosed() {
		return
	}

	c.disconnects.Add(1)
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	c.logger.Warn("indi server connection lost", "address", c.cfg.Address, "error", err)

	c.devicesMu.Lock()
	lost := make([]*Device, 0, len(c.devices))
	for _, d := range c.devices {
		d.invalidate()
		lost = append(lost, d)
	}
	c.devices = make(map[string]*Device)
	c.devicesMu.Unlock()

	c.emit(func() {
		for _, d := range lost {
			if c.handlers.DeviceRemoved != nil {
				c.handlers.DeviceRemoved(d.Name())
			}
		}
		if c.handlers.ConnectionFailed != nil {
			c.handlers.ConnectionFailed(fmt.Errorf("%w: %w", ErrConnectionLost, err))
		}
	})
}

func (c *Client) handleElement(dec *xml.Decoder, start xml.StartElement) error {
	c.elementsRx.Add(1)
	c.touch()

	local := start.Name.Local
	if op, kind := elementKind(local); op != "" {
		var v vector
		if err := dec.DecodeElement(&v, &start); err != nil {
			return fmt.Errorf("decoding %s: %w", local, err)
		}
		if op == "def" {
			c.onDefine(kind, &v)
		} else {
			c.onSet(kind, &v)
		}
		return nil
	}

	switch local {
	case "delProperty":
		var del delProperty
		if err := dec.DecodeElement(&del, &start); err != nil {
			return fmt.Errorf("decoding delProperty: %w", err)
		}
		c.onDelete(&del)
	case "message":
		var msg message
		if err := dec.DecodeElement(&msg, &start); err != nil {
			return fmt.Errorf("decoding message: %w", err)
		}
		if msg.Message != "" {
			c.logger.Debug("indi message", "device", msg.Device, "message", msg.Message)
		}
	default:
		if err := dec.Skip(); err != nil {
			return fmt.Errorf("skipping %s: %w", local, err)
		}
	}
	return nil
}

func (c *Client) onDefine(kind string, v *vector) {
	if v.Device == "" || v.Name == "" {
		return
	}

	c.devicesMu.Lock()
	d, exists := c.devices[v.Device]
	if !exists {
		d = newDevice(v.Device)
		c.devices[v.Device] = d
	}
	c.devicesMu.Unlock()

	d.define(kind, v)
	p := bus.Property{Device: v.Device, Name: v.Name, Kind: kind}

	c.emit(func() {
		if !exists && c.handlers.DeviceAnnounced != nil {
			c.handlers.DeviceAnnounced(d)
		}
		if c.handlers.PropertyDefined != nil {
			c.handlers.PropertyDefined(p)
		}
	})
}

func (c *Client) onSet(kind string, v *vector) {
	c.devicesMu.Lock()
	d, ok := c.devices[v.Device]
	c.devicesMu.Unlock()
	if !ok || !d.update(kind, v) {
		return
	}

	if v.Message != "" {
		c.logger.Debug("indi message", "device", v.Device, "property", v.Name, "message", v.Message)
	}

	p := bus.Property{Device: v.Device, Name: v.Name, Kind: kind}
	c.emit(func() {
		if c.handlers.PropertyUpdated != nil {
			c.handlers.PropertyUpdated(p)
		}
	})
}

func (c *Client) onDelete(del *delProperty) {
	c.devicesMu.Lock()
	d, ok := c.devices[del.Device]
	if ok && del.Name == "" {
		delete(c.devices, del.Device)
	}
	c.devicesMu.Unlock()
	if !ok {
		return
	}

	if del.Name == "" {
		d.invalidate()
		c.emit(func() {
			if c.handlers.DeviceRemoved != nil {
				c.handlers.DeviceRemoved(del.Device)
			}
		})
		return
	}

	if !d.remove(del.Name) {
		return
	}
	p := bus.Property{Device: del.Device, Name: del.Name}
	c.emit(func() {
		if c.handlers.PropertyRemoved != nil {
			c.handlers.PropertyRemoved(p)
		}
	})
}

// emit runs fn unless the client is closed, recovering handler panics.
func (c *Client) emit(fn func()) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	if c.isClosed() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in indi event handler", "panic", r)
		}
	}()
	fn()
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}
