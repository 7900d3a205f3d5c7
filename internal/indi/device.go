package indi

import (
	"strings"
	"sync"

	"github.com/nerrad567/indi-watchdog/internal/bus"
)

// Vector is the client-side copy of one device property.
type Vector struct {
	Name    string
	Kind    string
	State   string
	Perm    string
	Members map[string]string
}

// Device is the live client-side mirror of a broker device and the
// bus.RemoteHandle handed to the registry. Its state is updated by the
// reader goroutine and read by the sweep, under its own lock.
type Device struct {
	name string

	mu    sync.RWMutex
	valid bool
	props map[string]*Vector
}

var _ bus.RemoteHandle = (*Device)(nil)

func newDevice(name string) *Device {
	return &Device{
		name:  name,
		valid: true,
		props: make(map[string]*Vector),
	}
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// Valid reports whether the device is still defined on the server.
func (d *Device) Valid() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.valid
}

// Connected reports whether CONNECTION.CONNECT is On.
func (d *Device) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.props[ConnectionProperty]
	if !ok || p.Kind != KindSwitch {
		return false
	}
	return p.Members[ConnectMember] == SwitchOn
}

// Property returns a copy of the named property.
func (d *Device) Property(name string) (Vector, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.props[name]
	if !ok {
		return Vector{}, false
	}
	cp := *p
	cp.Members = make(map[string]string, len(p.Members))
	for k, v := range p.Members {
		cp.Members[k] = v
	}
	return cp, true
}

// hasConnectionSwitch reports whether a usable CONNECTION switch exists.
func (d *Device) hasConnectionSwitch() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.props[ConnectionProperty]
	if !ok || p.Kind != KindSwitch {
		return false
	}
	_, hasConnect := p.Members[ConnectMember]
	return hasConnect
}

func (d *Device) define(kind string, v *vector) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := &Vector{
		Name:    v.Name,
		Kind:    kind,
		State:   v.State,
		Perm:    v.Perm,
		Members: make(map[string]string, len(v.Members)),
	}
	for _, m := range v.Members {
		p.Members[m.Name] = memberValue(kind, m.Value)
	}
	d.props[v.Name] = p
}

// update applies a set*Vector. It returns false for undefined properties.
func (d *Device) update(kind string, v *vector) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.props[v.Name]
	if !ok || p.Kind != kind {
		return false
	}
	if v.State != "" {
		p.State = v.State
	}
	for _, m := range v.Members {
		p.Members[m.Name] = memberValue(kind, m.Value)
	}
	return true
}

func (d *Device) remove(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.props[name]; !ok {
		return false
	}
	delete(d.props, name)
	return true
}

func (d *Device) invalidate() {
	d.mu.Lock()
	d.valid = false
	d.mu.Unlock()
}

func memberValue(kind, raw string) string {
	if kind == KindBLOB {
		// BLOB payloads are not needed and can be large.
		return ""
	}
	return strings.TrimSpace(raw)
}
