package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes. Every Sentinel topic lives under TopicRoot.
const (
	TopicRoot = "sentinel"

	TopicPrefixEvents    = TopicRoot + "/events"
	TopicPrefixDiscovery = TopicRoot + "/discovery"
	TopicPrefixSignals   = TopicRoot + "/signals"
	TopicPrefixSystem    = TopicRoot + "/system"
)

// Topics provides builders for Sentinel MQTT topics.
//
//	topic := mqtt.Topics{}.Event("alert", "a-17")
//	// sentinel/events/alert/a-17
type Topics struct{}

// Event returns the topic carrying change events for one entity.
//
// Example: sentinel/events/device/cam-01
func (Topics) Event(kind, id string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixEvents, kind, id)
}

// Discovery returns the topic on which scanners announce new entities.
//
// Example: sentinel/discovery/vulnerability
func (Topics) Discovery(kind string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixDiscovery, kind)
}

// DeviceRemoved returns the topic on which scanners report a device is gone.
func (Topics) DeviceRemoved() string {
	return TopicPrefixDiscovery + "/device/removed"
}

// Signal returns the topic for dispatched notifications of a given level.
//
// Example: sentinel/signals/critical
func (Topics) Signal(level string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixSignals, level)
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllEvents matches every entity event.
//
// Pattern: sentinel/events/+/+
func (Topics) AllEvents() string {
	return TopicPrefixEvents + "/+/+"
}

// AllEventsOfKind matches events for one entity kind.
func (Topics) AllEventsOfKind(kind string) string {
	return fmt.Sprintf("%s/%s/+", TopicPrefixEvents, kind)
}

// AllDiscovery matches every discovery announcement, including removals.
//
// Pattern: sentinel/discovery/#
func (Topics) AllDiscovery() string {
	return TopicPrefixDiscovery + "/#"
}

// AllSignals matches every signal level.
func (Topics) AllSignals() string {
	return TopicPrefixSignals + "/+"
}

// ParseEventTopic splits sentinel/events/{kind}/{id} into its parts.
func ParseEventTopic(topic string) (kind, id string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixEvents+"/")
	if !found {
		return "", "", false
	}
	kind, id, found = strings.Cut(rest, "/")
	if !found || kind == "" || id == "" || strings.Contains(id, "/") {
		return "", "", false
	}
	return kind, id, true
}
