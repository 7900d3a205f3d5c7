package watchdog

import "github.com/nerrad567/indi-watchdog/internal/bus"

// handlersFor binds broker events to the registry. Events are ignored once
// gen is no longer the current session generation.
func (s *Supervisor) handlersFor(gen uint64) bus.Handlers {
	stale := func() bool { return s.generation.Load() != gen }

	return bus.Handlers{
		DeviceAnnounced: func(h bus.RemoteHandle) {
			if stale() {
				return
			}
			if s.registry.UpsertRemoteHandle(h.Name(), h) {
				s.logger.Info("monitored device announced", "device", h.Name())
			}
		},
		DeviceRemoved: func(name string) {
			if stale() {
				return
			}
			if s.registry.ClearRemoteHandle(name) {
				s.logger.Info("monitored device removed", "device", name)
			}
		},
		PropertyDefined: func(p bus.Property) {
			if stale() {
				return
			}
			s.logger.Debug("property defined", "device", p.Device, "property", p.Name, "kind", p.Kind)
		},
		PropertyUpdated: func(p bus.Property) {
			if stale() {
				return
			}
			s.logger.Debug("property updated", "device", p.Device, "property", p.Name)
		},
		PropertyRemoved: func(p bus.Property) {
			if stale() {
				return
			}
			s.logger.Debug("property removed", "device", p.Device, "property", p.Name)
		},
		ConnectionFailed: func(err error) {
			if stale() {
				return
			}
			select {
			case s.connFailed <- err:
			default:
			}
		},
	}
}
