package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huesync/internal/api"
	"github.com/dokzlo13/huesync/internal/config"
	"github.com/dokzlo13/huesync/internal/eventbus"
)

// APIService wraps the REST and websocket server.
type APIService struct {
	cfg    *config.Config
	Server *api.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, sessions api.SessionSource, events api.EventSource) *APIService {
	return &APIService{
		cfg:    cfg,
		Server: api.NewServer(cfg.API.Host, cfg.API.GetPort(), sessions, events),
	}
}

// Subscribe forwards every bus event to websocket clients.
func (s *APIService) Subscribe(bus *eventbus.Bus) {
	if s.cfg.API.Enabled {
		bus.SubscribeAll(s.Server.HandleEvent)
	}
}

// Start begins the API server if enabled.
func (s *APIService) Start(ctx context.Context) {
	if !s.cfg.API.Enabled {
		log.Debug().Msg("API server disabled")
		return
	}

	go func() {
		if err := s.Server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("API server error")
		}
	}()
}
