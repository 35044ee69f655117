package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds the topic hierarchy under a configurable prefix:
//
//	<prefix>/status
//	<prefix>/<bridge>/events/<type>
//	<prefix>/<bridge>/lights/<unique_id>/state
type Topics struct {
	Prefix string
}

var topicEscaper = strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_")

// segment makes a value safe to embed as a single topic level.
func segment(s string) string {
	if s == "" {
		return "_"
	}
	return topicEscaper.Replace(s)
}

// Status is the retained online/offline topic.
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// Event is where bridge events of one type are published.
func (t Topics) Event(bridge, eventType string) string {
	return fmt.Sprintf("%s/%s/events/%s", t.Prefix, segment(bridge), segment(eventType))
}

// LightState is the retained state topic of a light.
func (t Topics) LightState(bridge, uniqueID string) string {
	return fmt.Sprintf("%s/%s/lights/%s/state", t.Prefix, segment(bridge), segment(uniqueID))
}
