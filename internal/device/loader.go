package device

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
)

// deviceList is the on-disk device list format.
type deviceList struct {
	Devices []*deviceEntry `json:"indiDevices"`
}

// deviceEntry tells an absent enableAutoConnect apart from false.
type deviceEntry struct {
	Name        string `json:"indiDeviceName"`
	NodePath    string `json:"linuxDeviceName"`
	Driver      string `json:"indiDeviceDriverName"`
	AutoConnect *bool  `json:"enableAutoConnect"`
}

// Parse strips comments and trailing commas from data, then decodes and
// validates a device list. Every field is required, enableAutoConnect
// included: there is no default.
//
// The format is:
//
//	{
//	  "indiDevices": [
//	    {
//	      "indiDeviceName": "EQMod Mount",
//	      "linuxDeviceName": "/dev/ttyUSB0",
//	      "indiDeviceDriverName": "indi_eqmod_telescope",
//	      "enableAutoConnect": true
//	    }
//	  ]
//	}
func Parse(data []byte) ([]*Device, error) {
	var list deviceList
	if err := json.Unmarshal(jsonc.ToJSON(data), &list); err != nil {
		return nil, fmt.Errorf("parsing device list: %w", err)
	}

	if len(list.Devices) == 0 {
		return nil, ErrNoDevices
	}

	devices := make([]*Device, 0, len(list.Devices))
	seen := make(map[string]struct{}, len(list.Devices))
	for i, e := range list.Devices {
		if err := validate(e); err != nil {
			return nil, fmt.Errorf("device %d: %w", i, err)
		}
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("device %d: %w: %s", i, ErrDuplicateDevice, e.Name)
		}
		seen[e.Name] = struct{}{}

		devices = append(devices, &Device{
			Name:        e.Name,
			NodePath:    e.NodePath,
			Driver:      e.Driver,
			AutoConnect: *e.AutoConnect,
		})
	}

	return devices, nil
}

// LoadFile reads and parses a device list file.
func LoadFile(path string) ([]*Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	devices, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return devices, nil
}

func validate(d *deviceEntry) error {
	if d == nil {
		return fmt.Errorf("%w: null entry", ErrInvalidDevice)
	}

	var missing []string
	if strings.TrimSpace(d.Name) == "" {
		missing = append(missing, "indiDeviceName")
	}
	if strings.TrimSpace(d.NodePath) == "" {
		missing = append(missing, "linuxDeviceName")
	}
	if strings.TrimSpace(d.Driver) == "" {
		missing = append(missing, "indiDeviceDriverName")
	}
	if d.AutoConnect == nil {
		missing = append(missing, "enableAutoConnect")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidDevice, strings.Join(missing, ", "))
	}

	if strings.ContainsAny(d.Driver, "/ \t\n") {
		return fmt.Errorf("%w: driver %q must be a bare executable name", ErrInvalidDevice, d.Driver)
	}

	return nil
}
