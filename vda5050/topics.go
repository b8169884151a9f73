package vda5050

import "strings"

// Message kinds, also the final topic segment.
const (
	TopicOrder          = "order"
	TopicInstantActions = "instantActions"
	TopicState          = "state"
	TopicVisualization  = "visualization"
	TopicConnection     = "connection"
)

// Wildcard matches any single robot serial in a topic filter.
const Wildcard = "+"

// Topics builds and parses topics of the form
// {prefix}/{manufacturer}/{serial}/{kind}. The prefix itself may contain
// slashes (e.g. "vda5050/v2").
type Topics struct {
	Prefix       string
	Manufacturer string
}

func (t Topics) join(serial, kind string) string {
	return t.Prefix + "/" + t.Manufacturer + "/" + serial + "/" + kind
}

// Order returns the outbound order topic for one robot.
func (t Topics) Order(serial string) string {
	return t.join(serial, TopicOrder)
}

// InstantActions returns the outbound instant-actions topic for one robot.
func (t Topics) InstantActions(serial string) string {
	return t.join(serial, TopicInstantActions)
}

// State returns the inbound state topic. Pass Wildcard to cover the fleet.
func (t Topics) State(serial string) string {
	return t.join(serial, TopicState)
}

// Visualization returns the inbound visualization topic.
func (t Topics) Visualization(serial string) string {
	return t.join(serial, TopicVisualization)
}

// Connection returns the inbound connection topic.
func (t Topics) Connection(serial string) string {
	return t.join(serial, TopicConnection)
}

// Parse extracts the robot serial and message kind from an inbound topic.
// The kind is always the final segment. The serial is "unknown" when the
// topic does not follow the scheme under this prefix and manufacturer.
func (t Topics) Parse(topic string) (serial, kind string) {
	parts := strings.Split(topic, "/")
	kind = parts[len(parts)-1]
	prefix := strings.Split(t.Prefix, "/")
	if len(parts) != len(prefix)+3 {
		return "unknown", kind
	}
	for i, p := range prefix {
		if parts[i] != p {
			return "unknown", kind
		}
	}
	if parts[len(prefix)] != t.Manufacturer {
		return "unknown", kind
	}
	return parts[len(prefix)+1], kind
}
