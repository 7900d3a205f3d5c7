// Package bus defines the device bus capability the watchdog depends on:
// a Session to the broker, the RemoteHandle it hands out for each announced
// device, and the Handlers it reports broker events through.
//
// The concrete INDI implementation lives in package indi. Tests use
// in-memory fakes.
package bus
