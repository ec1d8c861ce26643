package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the gateway's MQTT hierarchy.
const (
	// TopicPrefix is the root of every gateway topic.
	TopicPrefix = "graylogic"

	// TopicPrefixSystem is the base for gateway system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for gateway MQTT topics.
// Using these helpers keeps topic naming consistent between publishers and subscribers.
//
//	topic := mqtt.Topics{}.DoorEvent("hikvision", "door-1")
//	// Returns: "graylogic/door/hikvision/door-1/event"
type Topics struct{}

// DoorEvent returns the topic for access events raised by a door controller.
//
// Example: graylogic/door/hikvision/door-1/event
func (Topics) DoorEvent(manufacturer, doorID string) string {
	return fmt.Sprintf("%s/door/%s/%s/event", TopicPrefix, segment(manufacturer), segment(doorID))
}

// MonitorStatus returns the topic for a monitored device's status.
//
// Example: graylogic/monitor/SENSOR-A/temp-01/status
func (Topics) MonitorStatus(protocol, deviceID string) string {
	return fmt.Sprintf("%s/monitor/%s/%s/status", TopicPrefix, segment(protocol), segment(deviceID))
}

// BMSSet returns the topic used to command a BMS point.
//
// Example: graylogic/bms/ahu-1/set/setpoint
func (Topics) BMSSet(deviceID, point string) string {
	return fmt.Sprintf("%s/bms/%s/set/%s", TopicPrefix, segment(deviceID), segment(point))
}

// SystemStatus returns the gateway status topic used for LWT and online messages.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllBMSPoints returns a pattern matching every point reported by one BMS device.
//
// Pattern: graylogic/bms/ahu-1/+
func (Topics) AllBMSPoints(deviceID string) string {
	return fmt.Sprintf("%s/bms/%s/+", TopicPrefix, segment(deviceID))
}

// LastSegment returns the final level of a topic.
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// segment makes an identifier safe for use as a single topic level.
// MQTT wildcards and separators are replaced with underscores.
func segment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
