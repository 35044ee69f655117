package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huesync/internal/config"
	"github.com/dokzlo13/huesync/internal/eventbus"
	"github.com/dokzlo13/huesync/internal/hue"
	"github.com/dokzlo13/huesync/internal/kv"
)

const pairRetryInterval = 2 * time.Second

// ErrNotPaired is returned when no username is configured or stored.
var ErrNotPaired = errors.New("bridge is not paired, run with -pair and press the link button")

// HueService owns the bridge transport, the session registry and the event
// bus the session publishes to.
type HueService struct {
	cfg         *config.Config
	credentials *kv.Credentials

	Transport *hue.HTTPTransport
	Registry  *hue.Registry
	Bus       *eventbus.Bus

	mu      sync.RWMutex
	session *hue.Session
}

// NewHueService creates the transport and bus without contacting the bridge.
func NewHueService(cfg *config.Config, credentials *kv.Credentials) *HueService {
	return &HueService{
		cfg:         cfg,
		credentials: credentials,
		Transport:   hue.NewHTTPTransport(cfg.Bridge.Timeout.Duration(), cfg.Bridge.RateLimitRPS),
		Registry:    hue.NewRegistry(),
		Bus:         eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize()),
	}
}

// resolveAddress prefers the configured address, then a previously paired
// bridge, then discovery.
func (s *HueService) resolveAddress(ctx context.Context) (string, error) {
	if s.cfg.Bridge.Address != "" {
		return s.cfg.Bridge.Address, nil
	}

	paired, err := s.credentials.Addresses()
	if err != nil {
		return "", err
	}
	if len(paired) > 0 {
		return paired[0], nil
	}

	found, err := hue.Discover(ctx)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", errors.New("no bridge configured and none discovered")
	}
	log.Info().Str("bridge", found[0].Address).Str("id", found[0].ID).Msg("Using discovered bridge")
	return found[0].Address, nil
}

func (s *HueService) resolveUsername(address string) (string, error) {
	if s.cfg.Bridge.Username != "" {
		return s.cfg.Bridge.Username, nil
	}
	username, err := s.credentials.Username(address)
	if err != nil {
		return "", err
	}
	if username == "" {
		return "", ErrNotPaired
	}
	return username, nil
}

// Start acquires and initializes the bridge session.
func (s *HueService) Start(ctx context.Context) error {
	address, err := s.resolveAddress(ctx)
	if err != nil {
		return err
	}
	username, err := s.resolveUsername(address)
	if err != nil {
		return err
	}
	opts, err := SessionOptions(s.cfg, address, username)
	if err != nil {
		return err
	}

	session, err := s.Registry.Acquire(ctx, opts, s.Transport, s.Bus)
	if err != nil {
		return fmt.Errorf("failed to connect to bridge %s: %w", address, err)
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	log.Info().Str("bridge", address).Str("session", session.ID()).Msg("Connected to Hue bridge")
	return nil
}

// Pair waits for the link button to be pressed, then stores the new
// username for the bridge.
func (s *HueService) Pair(ctx context.Context) (string, error) {
	address, err := s.resolveAddress(ctx)
	if err != nil {
		return "", err
	}

	log.Info().Str("bridge", address).Msg("Press the link button on the bridge")
	username, err := s.authenticate(ctx, address)
	if err != nil {
		return "", err
	}

	cred := kv.Credential{Username: username}
	if info, ok := hue.CheckBridgeAvailability(ctx, s.Transport, address); ok {
		cred.BridgeID = info.ID
	}
	if err := s.credentials.Save(address, cred); err != nil {
		return "", err
	}
	log.Info().Str("bridge", address).Msg("Paired with Hue bridge")
	return address, nil
}

// authenticate retries while the link button has not been pressed, until
// ctx expires.
func (s *HueService) authenticate(ctx context.Context, address string) (string, error) {
	ticker := time.NewTicker(pairRetryInterval)
	defer ticker.Stop()
	for {
		username, err := hue.Authenticate(ctx, s.Transport, address, s.cfg.Bridge.UseHTTPS, s.cfg.Bridge.AppName, s.cfg.Bridge.DeviceName)
		var be *hue.BridgeError
		if err == nil || !errors.As(err, &be) || be.Type != hue.ErrorTypeLinkButtonNotSet {
			return username, err
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%s: %w", be.UserMessage(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Session returns the active session. It satisfies the session source
// interfaces of the API and Lua layers.
func (s *HueService) Session() (*hue.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil || !s.session.Initialized() {
		return nil, hue.ErrNotInitialized
	}
	return s.session, nil
}

// Ready reports whether the session is initialized.
func (s *HueService) Ready() bool {
	_, err := s.Session()
	return err == nil
}

// Close releases the session, then drains the bus.
func (s *HueService) Close() {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.mu.Unlock()

	if session != nil {
		s.Registry.Release(session)
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.Transport != nil {
		s.Transport.Close()
	}
}
