package transport

import "strings"

// MatchTopic reports whether an MQTT topic filter matches a concrete topic.
// "+" matches exactly one level; "#" matches any remainder and is only valid
// as the final level.
func MatchTopic(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, seg := range fs {
		if seg == "#" {
			return i == len(fs)-1
		}
		if i >= len(ts) {
			return false
		}
		if seg != "+" && seg != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
