package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huesync/internal/config"
	"github.com/dokzlo13/huesync/internal/eventbus"
	"github.com/dokzlo13/huesync/internal/hue"
	"github.com/dokzlo13/huesync/internal/metrics"
)

// MetricsService writes light state history to InfluxDB.
type MetricsService struct {
	cfg    *config.Config
	client *metrics.Client
}

func NewMetricsService(cfg *config.Config) *MetricsService {
	return &MetricsService{cfg: cfg}
}

// Start connects and subscribes the recorder. Connection failures leave
// metrics disabled.
func (s *MetricsService) Start(bus *eventbus.Bus, registry *hue.Registry) {
	if !s.cfg.InfluxDB.Enabled {
		return
	}

	client, err := metrics.Connect(s.cfg.InfluxDB)
	if err != nil {
		log.Error().Err(err).Str("url", s.cfg.InfluxDB.URL).Msg("InfluxDB disabled")
		return
	}
	s.client = client

	bus.SubscribeAll(metrics.NewRecorder(client, registry).Handle)
	log.Info().Str("url", s.cfg.InfluxDB.URL).Str("bucket", s.cfg.InfluxDB.Bucket).Msg("Recording metrics to InfluxDB")
}

// Close flushes pending points.
func (s *MetricsService) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
