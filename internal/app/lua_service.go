package app

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huesync/internal/config"
	"github.com/dokzlo13/huesync/internal/eventbus"
	luart "github.com/dokzlo13/huesync/internal/lua"
	"github.com/dokzlo13/huesync/internal/lua/modules"
)

// LuaService wraps the Lua runtime and provides thread-safe execution.
type LuaService struct {
	cfg     *config.Config
	Runtime *luart.Runtime
	loaded  bool
}

// NewLuaService creates a new LuaService.
func NewLuaService(cfg *config.Config, sessions modules.SessionSource, db *sql.DB) *LuaService {
	return &LuaService{
		cfg: cfg,
		Runtime: luart.NewRuntime(luart.RuntimeDeps{
			Sessions:  sessions,
			DB:        db,
			QueueSize: cfg.EventBus.GetQueueSize(),
		}),
	}
}

// LoadScript runs the configured script. A missing script is not an error:
// the daemon then runs without automation.
func (s *LuaService) LoadScript() error {
	if s.cfg.Script == "" {
		return nil
	}
	if _, err := os.Stat(s.cfg.Script); errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", s.cfg.Script).Msg("No Lua script, automation disabled")
		return nil
	}
	if err := s.Runtime.LoadScript(s.cfg.Script); err != nil {
		return err
	}
	s.loaded = true
	return nil
}

// Start begins the Lua worker goroutine and feeds it bus events.
func (s *LuaService) Start(ctx context.Context, bus *eventbus.Bus) {
	if !s.loaded {
		return
	}
	// Lua worker goroutine - the ONLY goroutine that touches Lua
	go s.Runtime.Run(ctx)

	bus.SubscribeAll(func(event eventbus.Event) {
		s.Runtime.HandleEvent(ctx, event)
	})
}

// Do queues work to be executed on the Lua VM.
func (s *LuaService) Do(ctx context.Context, work luart.LuaWork) bool {
	return s.Runtime.Do(ctx, work)
}

// Close closes the Lua runtime.
func (s *LuaService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}
