// Package device holds the monitored device list and the registry that
// tracks each device's broker registration.
//
// # Key Types
//
//   - Device: static identity (name, local node, driver, auto-connect
//     policy) plus the remote handle last announced by the broker
//   - Registry: name-keyed, mutex-guarded set of devices with a fixed key
//     set; the only shared state between broker events and the sweep
//   - Status: copy of a device's observable state for reporting
//
// # Invariants
//
//   - A device's handle is nil unless the broker announced the device
//     since the last reset.
//   - Holding a handle never implies the device is connected; connection
//     is read from the handle on demand.
//   - Registry mutations are atomic per call, and ForEach sees a
//     consistent view for its whole traversal.
//
// # Usage
//
//	devices, err := device.LoadFile("indi_devices.json")
//	if err != nil {
//	    return err
//	}
//	registry, err := device.NewRegistry(devices)
//	if err != nil {
//	    return err
//	}
//	registry.SetLogger(log)
package device
