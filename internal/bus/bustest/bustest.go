// Package bustest provides in-memory bus fakes for tests.
package bustest

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/indi-watchdog/internal/bus"
)

// Handle is a settable bus.RemoteHandle.
type Handle struct {
	name      string
	valid     atomic.Bool
	connected atomic.Bool
}

// NewHandle returns a valid, disconnected handle for name.
func NewHandle(name string) *Handle {
	h := &Handle{name: name}
	h.valid.Store(true)
	return h
}

func (h *Handle) Name() string    { return h.name }
func (h *Handle) Valid() bool     { return h.valid.Load() }
func (h *Handle) Connected() bool { return h.connected.Load() }

// SetValid sets the registration state.
func (h *Handle) SetValid(v bool) { h.valid.Store(v) }

// SetConnected sets the CONNECT switch state.
func (h *Handle) SetConnected(v bool) { h.connected.Store(v) }

// Send records one SendConnection call.
type Send struct {
	Device  string
	Connect bool
}

// Session is a scripted bus.Session.
//
// Connect marks the session connected unless FailConnect is set, in which
// case ConnectionFailed fires. Emit* methods drive the bound handlers as
// the broker would.
type Session struct {
	mu          sync.Mutex
	handlers    bus.Handlers
	connected   bool
	closed      bool
	connects    int
	sends       []Send
	sendErr     error
	failConnect bool
	holdConnect bool
}

// NewSession returns a session bound to handlers.
func NewSession(handlers bus.Handlers) *Session {
	return &Session{handlers: handlers}
}

// FailConnect makes subsequent Connect calls report failure.
func (s *Session) FailConnect(fail bool) {
	s.mu.Lock()
	s.failConnect = fail
	s.mu.Unlock()
}

// HoldConnect makes subsequent Connect calls neither succeed nor fail.
func (s *Session) HoldConnect(hold bool) {
	s.mu.Lock()
	s.holdConnect = hold
	s.mu.Unlock()
}

// SetSendError makes SendConnection return err.
func (s *Session) SetSendError(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

func (s *Session) Connect() {
	s.mu.Lock()
	s.connects++
	fail, hold, closed := s.failConnect, s.holdConnect, s.closed
	if !fail && !hold && !closed {
		s.connected = true
	}
	s.mu.Unlock()

	if fail && !closed && s.handlers.ConnectionFailed != nil {
		go s.handlers.ConnectionFailed(fmt.Errorf("%w: scripted failure", bus.ErrNotConnected))
	}
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

func (s *Session) SendConnection(h bus.RemoteHandle, connect bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		return bus.ErrInvalidHandle
	}
	s.sends = append(s.sends, Send{Device: h.Name(), Connect: connect})
	return s.sendErr
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.connected = false
	return nil
}

// Drop simulates the broker link going away.
func (s *Session) Drop(err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	if s.handlers.ConnectionFailed != nil {
		s.handlers.ConnectionFailed(err)
	}
}

// Announce fires DeviceAnnounced for h.
func (s *Session) Announce(h bus.RemoteHandle) {
	if s.handlers.DeviceAnnounced != nil {
		s.handlers.DeviceAnnounced(h)
	}
}

// Remove fires DeviceRemoved for name.
func (s *Session) Remove(name string) {
	if s.handlers.DeviceRemoved != nil {
		s.handlers.DeviceRemoved(name)
	}
}

// Update fires PropertyUpdated for p.
func (s *Session) Update(p bus.Property) {
	if s.handlers.PropertyUpdated != nil {
		s.handlers.PropertyUpdated(p)
	}
}

// Sends returns a copy of the recorded SendConnection calls.
func (s *Session) Sends() []Send {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Send, len(s.sends))
	copy(out, s.sends)
	return out
}

// Connects returns how many times Connect was called.
func (s *Session) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Dialer records every session it builds.
type Dialer struct {
	mu       sync.Mutex
	sessions []*Session
	// Prepare, when set, configures each new session before it is returned.
	Prepare func(n int, s *Session)
}

// Dial implements bus.Dialer.
func (d *Dialer) Dial(handlers bus.Handlers) bus.Session {
	s := NewSession(handlers)
	d.mu.Lock()
	n := len(d.sessions)
	d.sessions = append(d.sessions, s)
	prepare := d.Prepare
	d.mu.Unlock()
	if prepare != nil {
		prepare(n, s)
	}
	return s
}

// Sessions returns the sessions built so far.
func (d *Dialer) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Session, len(d.sessions))
	copy(out, d.sessions)
	return out
}

// Latest returns the most recent session, or nil.
func (d *Dialer) Latest() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}
