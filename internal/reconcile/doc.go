// Package reconcile decides and applies the corrective action for one
// monitored device per tick.
//
// Decide is the pure decision table over an Observation (local node
// present, broker handle valid, device connected, auto-connect policy).
// Engine gathers the observation, applies the action through a Commander
// (the broker session) and escalates failed sends to the restart
// coordinator.
package reconcile
