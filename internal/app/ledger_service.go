package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huesync/internal/config"
	"github.com/dokzlo13/huesync/internal/eventbus"
	"github.com/dokzlo13/huesync/internal/kv"
	"github.com/dokzlo13/huesync/internal/ledger"
)

// ledgerEventTypes are recorded. Entity change events are too chatty and
// are reconstructable from the bridge.
var ledgerEventTypes = []eventbus.EventType{
	eventbus.EventTypeError,
	eventbus.EventTypeUpdateCheckCompleted,
	eventbus.EventTypeUpdateApplyCompleted,
	eventbus.EventTypeSearchCompleted,
	eventbus.EventTypeLightFound,
	eventbus.EventTypeBridgeConfigChanged,
}

// LedgerService records bridge events and prunes old entries.
type LedgerService struct {
	cfg    *config.Config
	db     *sql.DB
	Ledger *ledger.Ledger
}

func NewLedgerService(cfg *config.Config, db *sql.DB) *LedgerService {
	return &LedgerService{
		cfg:    cfg,
		db:     db,
		Ledger: ledger.New(db),
	}
}

// Subscribe registers the recording handlers on bus.
func (s *LedgerService) Subscribe(bus *eventbus.Bus) {
	for _, t := range ledgerEventTypes {
		bus.Subscribe(t, s.record)
	}
}

func (s *LedgerService) record(event eventbus.Event) {
	bridge, _ := event.Data["bridge"].(string)
	payload := make(map[string]any, len(event.Data))
	for k, v := range event.Data {
		if k != "bridge" {
			payload[k] = v
		}
	}
	if err := s.Ledger.Append(string(event.Type), bridge, payload); err != nil {
		log.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to record event")
	}
}

// Start runs the retention loop.
func (s *LedgerService) Start(ctx context.Context) {
	interval := s.cfg.Ledger.CleanupInterval.Duration()
	if interval <= 0 || s.cfg.Ledger.RetentionDays <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.cleanup()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

func (s *LedgerService) cleanup() {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	if n, err := s.Ledger.DeleteOlderThan(retention); err != nil {
		log.Error().Err(err).Msg("Ledger cleanup failed")
	} else if n > 0 {
		log.Info().Int64("deleted", n).Msg("Pruned old ledger entries")
	}
	if n, err := kv.CleanupExpired(s.db); err != nil {
		log.Error().Err(err).Msg("KV cleanup failed")
	} else if n > 0 {
		log.Debug().Int64("deleted", n).Msg("Removed expired kv entries")
	}
}
