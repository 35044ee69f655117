package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huesync/internal/config"
	"github.com/dokzlo13/huesync/internal/eventbus"
	"github.com/dokzlo13/huesync/internal/hue"
	"github.com/dokzlo13/huesync/internal/mqtt"
)

// MQTTService mirrors bus events to an MQTT broker.
type MQTTService struct {
	cfg    *config.Config
	client *mqtt.Client
}

func NewMQTTService(cfg *config.Config) *MQTTService {
	return &MQTTService{cfg: cfg}
}

// Start connects and subscribes the publisher. A broker that cannot be
// reached at startup leaves MQTT disabled.
func (s *MQTTService) Start(bus *eventbus.Bus, registry *hue.Registry) {
	if !s.cfg.MQTT.Enabled {
		return
	}

	client, err := mqtt.Connect(s.cfg.MQTT)
	if err != nil {
		log.Error().Err(err).Str("host", s.cfg.MQTT.Host).Msg("MQTT disabled")
		return
	}
	s.client = client

	publisher := mqtt.NewEventPublisher(client, client.Topics(), byte(s.cfg.MQTT.QoS), registry)
	bus.SubscribeAll(publisher.Handle)
	log.Info().Str("host", s.cfg.MQTT.Host).Str("prefix", s.cfg.MQTT.TopicPrefix).Msg("Publishing events to MQTT")
}

// Close publishes the offline status and disconnects.
func (s *MQTTService) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
