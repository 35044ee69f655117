package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/huesync/internal/config"
	"github.com/dokzlo13/huesync/internal/db"
	"github.com/dokzlo13/huesync/internal/eventbus"
	"github.com/dokzlo13/huesync/internal/hue"
	"github.com/dokzlo13/huesync/internal/kv"
)

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return cfg
}

func openDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestSessionOptions(t *testing.T) {
	cfg := testConfig(t, `
bridge:
  use_https: true
refresh:
  interval: 30s
  parts: [lights]
  sort_order: id
  bridge_minute_of_day: -1
lights:
  default_transition_time: 4
ramps:
  cycle_ct: 7s
tracking:
  search_timeout: 30s
`)

	opts, err := SessionOptions(cfg, "hue.lan", "user")
	if err != nil {
		t.Fatalf("SessionOptions() error = %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{name: "address", got: opts.Address, want: "hue.lan"},
		{name: "username", got: opts.Username, want: "user"},
		{name: "https", got: opts.UseHTTPS, want: true},
		{name: "interval", got: opts.RefreshInterval, want: 30 * time.Second},
		{name: "parts", got: opts.RefreshParts, want: hue.RefreshLights},
		{name: "sort", got: opts.SortOrder, want: hue.SortByID},
		{name: "minute", got: opts.BridgeRefreshMinute, want: -1},
		{name: "transition", got: opts.DefaultTransitionTime, want: 4},
		{name: "ramp_ct", got: opts.RampDurations[hue.RampCycleCT], want: 7 * time.Second},
		{name: "ramp_hue", got: opts.RampDurations[hue.RampCycleHue], want: 10 * time.Second},
		{name: "search_timeout", got: opts.Timings.SearchTimeout, want: 30 * time.Second},
		{name: "check_interval", got: opts.Timings.UpdateCheckInterval, want: 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}

	bad := testConfig(t, "refresh:\n  parts: [sensors]\n")
	if _, err := SessionOptions(bad, "hue.lan", "user"); err == nil {
		t.Error("SessionOptions() with an unknown part error = nil")
	}
}

func TestHueService_Credentials(t *testing.T) {
	database := openDB(t)
	creds := kv.NewCredentials(database.DB)

	cfg := testConfig(t, "bridge:\n  address: Hue.LAN\n")
	svc := NewHueService(cfg, creds)
	defer svc.Close()

	if _, err := svc.Session(); !errors.Is(err, hue.ErrNotInitialized) {
		t.Errorf("Session() before Start error = %v, want ErrNotInitialized", err)
	}
	if svc.Ready() {
		t.Error("Ready() before Start = true")
	}

	if err := svc.Start(context.Background()); !errors.Is(err, ErrNotPaired) {
		t.Fatalf("Start() without username error = %v, want ErrNotPaired", err)
	}

	if err := creds.Save("hue.lan", kv.Credential{Username: "stored"}); err != nil {
		t.Fatal(err)
	}
	got, err := svc.resolveUsername("Hue.LAN")
	if err != nil || got != "stored" {
		t.Errorf("resolveUsername() = %q, %v, want stored", got, err)
	}

	cfg.Bridge.Username = "configured"
	if got, _ := svc.resolveUsername("hue.lan"); got != "configured" {
		t.Errorf("resolveUsername() = %q, want the configured username", got)
	}
}

func TestHueService_ResolveAddress(t *testing.T) {
	database := openDB(t)
	creds := kv.NewCredentials(database.DB)
	if err := creds.Save("10.0.0.7", kv.Credential{Username: "u"}); err != nil {
		t.Fatal(err)
	}

	svc := NewHueService(testConfig(t, "{}"), creds)
	defer svc.Close()

	got, err := svc.resolveAddress(context.Background())
	if err != nil || got != "10.0.0.7" {
		t.Errorf("resolveAddress() = %q, %v, want the paired bridge", got, err)
	}
}

func TestLedgerService(t *testing.T) {
	database := openDB(t)
	cfg := testConfig(t, "{}")
	svc := NewLedgerService(cfg, database.DB)

	bus := eventbus.NewWithConfig(1, 10)
	svc.Subscribe(bus)

	bus.Publish(eventbus.Event{Type: eventbus.EventTypeLightChanged, Data: map[string]interface{}{"bridge": "b", "id": "1"}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeSearchCompleted, Data: map[string]interface{}{"bridge": "b", "result": "completed"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Close(ctx)

	entries, err := svc.Ledger.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Recent() = %d entries, want only the search completion", len(entries))
	}
	e := entries[0]
	if e.EventType != string(eventbus.EventTypeSearchCompleted) || e.Bridge != "b" || e.Payload["result"] != "completed" {
		t.Errorf("entry = %+v", e)
	}
	if _, ok := e.Payload["bridge"]; ok {
		t.Error("payload repeats the bridge column")
	}

	svc.cleanup()
	if entries, _ := svc.Ledger.Recent(10); len(entries) != 1 {
		t.Errorf("cleanup() removed a fresh entry")
	}
}

func TestHealthService(t *testing.T) {
	ready := false
	svc := NewHealthService(testConfig(t, "{}"), func() bool { return ready })
	h := svc.handler()

	tests := []struct {
		name   string
		path   string
		ready  bool
		status int
	}{
		{name: "health", path: "/health", status: http.StatusOK},
		{name: "not_ready", path: "/ready", status: http.StatusServiceUnavailable},
		{name: "ready", path: "/ready", ready: true, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready = tt.ready
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.status)
			}
		})
	}
}
