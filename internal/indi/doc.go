// Package indi implements the device bus over the INDI protocol.
//
// An INDI server (indiserver, default port 7624) exchanges a stream of XML
// elements with its clients. The client sends getProperties on connect and
// the server answers with def*Vector elements for every property of every
// device, followed by set*Vector updates and delProperty removals.
//
// Client mirrors that stream into Device objects and reports it through
// bus.Handlers:
//
//   - the first definition for a device announces it (DeviceAnnounced)
//   - delProperty without a property name removes it (DeviceRemoved)
//   - losing the link removes every device, then reports ConnectionFailed
//
// Only the CONNECTION switch is ever written, through SendConnection.
//
// Usage:
//
//	dial := indi.NewDialer(indi.Config{Address: "localhost:7624"}, log)
//	session := dial(handlers)
//	session.Connect()
package indi
