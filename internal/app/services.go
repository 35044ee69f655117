package app

import (
	"context"

	"github.com/dokzlo13/huesync/internal/config"
	"github.com/dokzlo13/huesync/internal/db"
	"github.com/dokzlo13/huesync/internal/kv"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB          *db.DB
	Credentials *kv.Credentials

	// High-level services
	Hue     *HueService
	Ledger  *LedgerService
	Lua     *LuaService
	Health  *HealthService
	API     *APIService
	MQTT    *MQTTService
	Metrics *MetricsService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Credentials = kv.NewCredentials(database.DB)

	s.Hue = NewHueService(cfg, s.Credentials)
	s.Ledger = NewLedgerService(cfg, database.DB)
	s.Lua = NewLuaService(cfg, s.Hue, database.DB)
	s.Health = NewHealthService(cfg, s.Hue.Ready)
	s.API = NewAPIService(cfg, s.Hue, s.Ledger.Ledger)
	s.MQTT = NewMQTTService(cfg)
	s.Metrics = NewMetricsService(cfg)

	return s, nil
}

// Start starts all services in the correct order. Event sinks subscribe
// before the session is initialized so they see its first events.
func (s *Services) Start(ctx context.Context) error {
	bus := s.Hue.Bus

	s.Ledger.Subscribe(bus)
	s.API.Subscribe(bus)
	s.MQTT.Start(bus, s.Hue.Registry)
	s.Metrics.Start(bus, s.Hue.Registry)

	// Health first so /ready is answerable while connecting
	s.Health.Start(ctx)

	if err := s.Hue.Start(ctx); err != nil {
		return err
	}

	// Scripts may read the session while loading
	if err := s.Lua.LoadScript(); err != nil {
		return err
	}

	s.Lua.Start(ctx, bus)
	s.Ledger.Start(ctx)
	s.API.Start(ctx)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.Hue != nil {
		s.Hue.Close()
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Metrics != nil {
		s.Metrics.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
