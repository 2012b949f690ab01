package mqtt

import "fmt"

// Topic prefixes for the homecore MQTT surface.
//
// The egress republishes hub events under the flat scheme:
// homecore/events/{kind} plus per-device state topics.
const (
	// TopicPrefixRoot is the base for all homecore topics.
	TopicPrefixRoot = "homecore"

	// TopicPrefixEvents is the base for republished hub events.
	TopicPrefixEvents = "homecore/events"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "homecore/system"
)

// Topics provides builders for homecore MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.Event("tag_update")  // "homecore/events/tag_update"
type Topics struct{}

// Event returns the topic for republished hub events of one kind.
//
// Example: homecore/events/tag_update
func (Topics) Event(kind string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEvents, kind)
}

// DeviceState returns the canonical state topic for a device.
//
// Example: homecore/device/lamp-living/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefixRoot, deviceID)
}

// SystemStatus returns the system status topic.
//
// Example: homecore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllEvents returns a pattern matching every republished hub event.
//
// Pattern: homecore/events/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/+", TopicPrefixEvents)
}

// AllDeviceStates returns a pattern matching all device state topics.
//
// Pattern: homecore/device/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/device/+/state", TopicPrefixRoot)
}

// AllTopics returns a pattern matching all homecore topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: homecore/#
func (Topics) AllTopics() string {
	return TopicPrefixRoot + "/#"
}
