package indi

import (
	"encoding/xml"
	"strings"
)

// Protocol version sent in getProperties.
const ProtocolVersion = "1.7"

// Connection property and its members.
const (
	ConnectionProperty = "CONNECTION"
	ConnectMember      = "CONNECT"
	DisconnectMember   = "DISCONNECT"
)

// Switch states.
const (
	SwitchOn  = "On"
	SwitchOff = "Off"
)

// Vector kinds.
const (
	KindSwitch = "Switch"
	KindNumber = "Number"
	KindText   = "Text"
	KindLight  = "Light"
	KindBLOB   = "BLOB"
)

// member is one element of a vector (defSwitch, oneNumber, ...).
type member struct {
	XMLName xml.Name
	Name    string `xml:"name,attr"`
	Label   string `xml:"label,attr"`
	Value   string `xml:",chardata"`
}

// vector is any def*Vector or set*Vector element.
type vector struct {
	XMLName   xml.Name
	Device    string   `xml:"device,attr"`
	Name      string   `xml:"name,attr"`
	Label     string   `xml:"label,attr"`
	Group     string   `xml:"group,attr"`
	State     string   `xml:"state,attr"`
	Perm      string   `xml:"perm,attr"`
	Rule      string   `xml:"rule,attr"`
	Timestamp string   `xml:"timestamp,attr"`
	Message   string   `xml:"message,attr"`
	Members   []member `xml:",any"`
}

// delProperty removes one property, or the whole device when Name is empty.
type delProperty struct {
	Device  string `xml:"device,attr"`
	Name    string `xml:"name,attr"`
	Message string `xml:"message,attr"`
}

// message is a free-form server or driver message.
type message struct {
	Device    string `xml:"device,attr"`
	Timestamp string `xml:"timestamp,attr"`
	Message   string `xml:"message,attr"`
}

// newSwitchVector is the client request to change switches.
type newSwitchVector struct {
	XMLName xml.Name    `xml:"newSwitchVector"`
	Device  string      `xml:"device,attr"`
	Name    string      `xml:"name,attr"`
	Members []oneSwitch `xml:"oneSwitch"`
}

type oneSwitch struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// getProperties is the handshake requesting every property.
type getProperties struct {
	XMLName xml.Name `xml:"getProperties"`
	Version string   `xml:"version,attr"`
}

// elementKind classifies a top-level element name.
// It returns ("def"|"set", kind) for vectors and ("", "") otherwise.
func elementKind(local string) (op, kind string) {
	if !strings.HasSuffix(local, "Vector") {
		return "", ""
	}
	base := strings.TrimSuffix(local, "Vector")
	for _, prefix := range []string{"def", "set"} {
		if strings.HasPrefix(base, prefix) {
			kind = strings.TrimPrefix(base, prefix)
			switch kind {
			case KindSwitch, KindNumber, KindText, KindLight, KindBLOB:
				return prefix, kind
			}
		}
	}
	return "", ""
}

// connectionRequest builds the CONNECTION switch request for device.
func connectionRequest(device string, connect bool) newSwitchVector {
	on, off := SwitchOff, SwitchOn
	if connect {
		on, off = SwitchOn, SwitchOff
	}
	return newSwitchVector{
		Device: device,
		Name:   ConnectionProperty,
		Members: []oneSwitch{
			{Name: ConnectMember, Value: on},
			{Name: DisconnectMember, Value: off},
		},
	}
}
