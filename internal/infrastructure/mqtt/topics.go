package mqtt

import "fmt"

// Topic prefixes. The notification gateways (SMS, email, push) and any
// dashboard subscribe under these.
const (
	// TopicPrefix is the base for all topics published by this core.
	TopicPrefix = "perimeter"

	// TopicPrefixEvent is the base for graded event topics.
	TopicPrefixEvent = "perimeter/event"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "perimeter/system"

	// TopicPrefixCommand is the base for inbound command topics.
	TopicPrefixCommand = "perimeter/command"
)

// Topics provides builders for the MQTT topic hierarchy. Using these
// helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// Event returns the topic for events of one severity.
//
// Example: perimeter/event/critical
func (Topics) Event(severity string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEvent, severity)
}

// AllEvents returns a pattern matching every event severity.
//
// Pattern: perimeter/event/+
func (Topics) AllEvents() string {
	return TopicPrefixEvent + "/+"
}

// SystemStatus returns the online/offline status topic. The LWT is
// published here so gateways can detect a crashed core.
//
// Example: perimeter/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// CommandAlarms returns the topic on which external tooling can command
// the alarm relays ("on" / "off" payload).
//
// Example: perimeter/command/alarms
func (Topics) CommandAlarms() string {
	return TopicPrefixCommand + "/alarms"
}
