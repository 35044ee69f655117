package mqtt

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huesync/internal/eventbus"
	"github.com/dokzlo13/huesync/internal/hue"
)

// MessagePublisher is the publish side of Client.
type MessagePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// SessionLookup resolves a bridge address to its live session.
// *hue.Registry satisfies it.
type SessionLookup interface {
	Lookup(address string) (*hue.Session, bool)
}

// EventPublisher mirrors bus events onto MQTT. Every event goes to its event
// topic; light_changed additionally refreshes the light's retained state.
type EventPublisher struct {
	client   MessagePublisher
	topics   Topics
	qos      byte
	sessions SessionLookup
}

// NewEventPublisher creates a publisher. sessions may be nil, in which case
// no retained light state is published.
func NewEventPublisher(client MessagePublisher, topics Topics, qos byte, sessions SessionLookup) *EventPublisher {
	return &EventPublisher{
		client:   client,
		topics:   topics,
		qos:      qos,
		sessions: sessions,
	}
}

type eventPayload struct {
	Type      eventbus.EventType     `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Handle is an eventbus.Handler.
func (p *EventPublisher) Handle(event eventbus.Event) {
	bridge, _ := event.Data["bridge"].(string)

	payload, err := json.Marshal(eventPayload{
		Type:      event.Type,
		Timestamp: time.Now().UnixMilli(),
		Data:      event.Data,
	})
	if err != nil {
		log.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to encode event for MQTT")
		return
	}
	if err := p.client.Publish(p.topics.Event(bridge, string(event.Type)), payload, p.qos, false); err != nil {
		log.Debug().Err(err).Str("type", string(event.Type)).Msg("MQTT event publish failed")
	}

	if event.Type == eventbus.EventTypeLightChanged {
		p.publishLightState(bridge, event.Data)
	}
}

func (p *EventPublisher) publishLightState(bridge string, data map[string]interface{}) {
	if p.sessions == nil {
		return
	}
	id, _ := data["id"].(string)
	session, ok := p.sessions.Lookup(bridge)
	if !ok {
		return
	}
	snap, ok := session.LightSnapshot(id)
	if !ok {
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Str("light", id).Msg("Failed to encode light state")
		return
	}
	if err := p.client.Publish(p.topics.LightState(bridge, snap.UniqueID), payload, p.qos, true); err != nil {
		log.Debug().Err(err).Str("light", id).Msg("MQTT light state publish failed")
	}
}
