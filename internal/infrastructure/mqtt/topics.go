package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes. Every watchdog topic lives under TopicPrefix.
const (
	TopicPrefix = "indiwatchdog"

	TopicPrefixSystem  = TopicPrefix + "/system"
	TopicPrefixDevice  = TopicPrefix + "/device"
	TopicPrefixEvent   = TopicPrefix + "/event"
	TopicPrefixCommand = TopicPrefix + "/command"
)

// topicEscaper replaces characters that would change a topic's level
// structure or act as wildcards.
var topicEscaper = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// Topics provides builders for watchdog MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceState("CCD Simulator")
//	// Returns: "indiwatchdog/device/CCD Simulator/state"
type Topics struct{}

// SystemStatus is the retained online/offline topic, also used as LWT.
//
// Example: indiwatchdog/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// DeviceState carries the retained reconciliation state of one device.
// INDI device names may contain spaces; '/', '+' and '#' are replaced.
//
// Example: indiwatchdog/device/CCD Simulator/state
func (Topics) DeviceState(device string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixDevice, topicEscaper.Replace(device))
}

// RestartEvents carries one message per restart request.
//
// Example: indiwatchdog/event/restart
func (Topics) RestartEvents() string {
	return TopicPrefixEvent + "/restart"
}

// SessionEvents carries INDI session state transitions (retained).
//
// Example: indiwatchdog/event/session
func (Topics) SessionEvents() string {
	return TopicPrefixEvent + "/session"
}

// RestartCommand receives forced restart requests.
//
// Example: indiwatchdog/command/restart
func (Topics) RestartCommand() string {
	return TopicPrefixCommand + "/restart"
}

// AllDeviceStates matches every device state topic.
//
// Pattern: indiwatchdog/device/+/state
func (Topics) AllDeviceStates() string {
	return TopicPrefixDevice + "/+/state"
}

// AllTopics matches every watchdog topic.
//
// Pattern: indiwatchdog/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
