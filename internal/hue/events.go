package hue

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huesync/internal/eventbus"
)

// Publisher receives session events. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(event eventbus.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(eventbus.Event) {}

func (s *Session) publish(t eventbus.EventType, data map[string]interface{}) {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["bridge"] = s.Address()
	s.publisher.Publish(eventbus.Event{Type: t, Data: data})
}

func (s *Session) emitLightChanged(l *LightBulb) {
	s.publish(eventbus.EventTypeLightChanged, map[string]interface{}{
		"index":     l.Index,
		"id":        l.ID,
		"unique_id": l.UniqueID,
	})
}

func (s *Session) emitGroupChanged(g *Group) {
	s.publish(eventbus.EventTypeGroupChanged, map[string]interface{}{
		"index": g.Index,
		"id":    g.ID,
	})
}

func (s *Session) emitSceneChanged(sc *Scene) {
	s.publish(eventbus.EventTypeSceneChanged, map[string]interface{}{
		"index": sc.Index,
		"id":    sc.ID,
	})
}

func (s *Session) emitConfigChanged() {
	s.publish(eventbus.EventTypeBridgeConfigChanged, nil)
}

func (s *Session) emitLightFound(id, name string) {
	s.publish(eventbus.EventTypeLightFound, map[string]interface{}{
		"id":   id,
		"name": name,
	})
}

func (s *Session) emitCompleted(t eventbus.EventType, result string) {
	s.publish(t, map[string]interface{}{
		"result": result,
	})
}

// emitError is the single error channel. Bridge errors carry their code and
// resource path; anything else is reported by message only.
func (s *Session) emitError(err error) {
	if err == nil {
		return
	}
	data := map[string]interface{}{
		"message":    err.Error(),
		"user_error": false,
	}
	var be *BridgeError
	if errors.As(err, &be) {
		data["message"] = be.UserMessage()
		data["user_error"] = be.IsUserError()
		data["code"] = be.Type
		data["address"] = be.Address
	}
	log.Warn().Err(err).Str("bridge", s.Address()).Msg("Bridge operation failed")
	s.publish(eventbus.EventTypeError, data)
}
