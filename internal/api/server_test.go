package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dokzlo13/huesync/internal/eventbus"
	"github.com/dokzlo13/huesync/internal/hue"
	"github.com/dokzlo13/huesync/internal/hue/huetest"
	"github.com/dokzlo13/huesync/internal/ledger"
)

type staticSource struct {
	session *hue.Session
	err     error
}

func (s staticSource) Session() (*hue.Session, error) {
	return s.session, s.err
}

type fakeEvents struct {
	entries []*ledger.Entry
	gotType string
	gotLim  int
}

func (f *fakeEvents) Recent(limit int) ([]*ledger.Entry, error) {
	f.gotLim = limit
	return f.entries, nil
}

func (f *fakeEvents) GetByType(eventType string, limit int) ([]*ledger.Entry, error) {
	f.gotType, f.gotLim = eventType, limit
	return f.entries, nil
}

func newTestServer(t *testing.T) (*Server, *huetest.Bridge, *fakeEvents) {
	t.Helper()
	session, bridge := huetest.NewSession(t, nil)
	events := &fakeEvents{}
	return NewServer("127.0.0.1", 0, staticSource{session: session}, events), bridge, events
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Routes(t *testing.T) {
	s, _, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "status", method: "GET", path: "/api/status", status: http.StatusOK},
		{name: "lights", method: "GET", path: "/api/lights", status: http.StatusOK},
		{name: "light", method: "GET", path: "/api/lights/1", status: http.StatusOK},
		{name: "unknown_light", method: "GET", path: "/api/lights/9", status: http.StatusNotFound},
		{name: "bad_state_body", method: "PUT", path: "/api/lights/1/state", body: "{", status: http.StatusBadRequest},
		{name: "unknown_light_state", method: "PUT", path: "/api/lights/9/state", body: `{"on":true}`, status: http.StatusNotFound},
		{name: "bad_ramp_kind", method: "POST", path: "/api/lights/1/ramps/sideways", status: http.StatusBadRequest},
		{name: "groups", method: "GET", path: "/api/groups", status: http.StatusOK},
		{name: "scenes", method: "GET", path: "/api/scenes", status: http.StatusOK},
		{name: "scene_missing_fields", method: "POST", path: "/api/scenes", body: `{"name":"x"}`, status: http.StatusBadRequest},
		{name: "unknown_scene", method: "POST", path: "/api/scenes/nope/activate", status: http.StatusNotFound},
		{name: "config", method: "GET", path: "/api/config", status: http.StatusOK},
		{name: "bad_refresh_part", method: "POST", path: "/api/refresh", body: `{"parts":["sensors"]}`, status: http.StatusBadRequest},
		{name: "refresh", method: "POST", path: "/api/refresh", body: `{"parts":["lights"]}`, status: http.StatusNoContent},
		{name: "bad_event_limit", method: "GET", path: "/api/events?limit=x", status: http.StatusBadRequest},
		{name: "wrong_method", method: "PATCH", path: "/api/lights", status: http.StatusMethodNotAllowed},
		{name: "wrong_method_nested", method: "GET", path: "/api/lights/1/toggle", status: http.StatusMethodNotAllowed},
		{name: "unknown_route", method: "GET", path: "/api/sensors", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, s, tt.method, tt.path, tt.body); rec.Code != tt.status {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestServer_Status(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, "GET", "/api/status", "")
	var got StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := StatusResponse{Bridge: huetest.Address, Initialized: true, Lights: 2, Groups: 1, Scenes: 1}
	got.SessionID = ""
	if got != want {
		t.Errorf("status = %+v, want %+v", got, want)
	}
}

func TestServer_SetLightState(t *testing.T) {
	s, bridge, _ := newTestServer(t)

	rec := do(t, s, "PUT", "/api/lights/1/state", `{"bri":200}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT state = %d (%s)", rec.Code, rec.Body)
	}
	var snap hue.LightSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.State.Brightness != 200 {
		t.Errorf("Brightness = %d, want 200", snap.State.Brightness)
	}
	calls := bridge.Calls("PUT", "lights/1/state")
	if len(calls) != 1 || calls[0].Body != `{"bri":200}` {
		t.Errorf("bridge calls = %+v", calls)
	}
}

func TestServer_ListsCarryIdentity(t *testing.T) {
	s, _, _ := newTestServer(t)

	var lights []hue.LightSnapshot
	if err := json.Unmarshal(do(t, s, "GET", "/api/lights", "").Body.Bytes(), &lights); err != nil {
		t.Fatalf("decode lights: %v", err)
	}
	if len(lights) != 2 || lights[0].Name != "Attic" || lights[1].ID != "1" {
		t.Errorf("lights = %+v", lights)
	}

	var scenes []map[string]interface{}
	if err := json.Unmarshal(do(t, s, "GET", "/api/scenes", "").Body.Bytes(), &scenes); err != nil {
		t.Fatalf("decode scenes: %v", err)
	}
	if len(scenes) != 1 || scenes[0]["id"] != "abc" || scenes[0]["name"] != "Relax" {
		t.Errorf("scenes = %v", scenes)
	}
}

func TestServer_Search(t *testing.T) {
	s, bridge, _ := newTestServer(t)
	bridge.Respond("POST", "lights", `[{"success": {"/lights": "Searching for new devices"}}]`)
	bridge.Respond("GET", "lights/new", `{"lastscan": "active"}`)

	tests := []struct {
		status int
		result hue.OperationResult
	}{
		{status: http.StatusAccepted, result: hue.ResultStarted},
		{status: http.StatusConflict, result: hue.ResultSearchAlreadyInProgress},
	}
	for _, tt := range tests {
		rec := do(t, s, "POST", "/api/search", "")
		var got OperationResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &got)
		if rec.Code != tt.status || got.Result != tt.result {
			t.Errorf("POST /api/search = %d %q, want %d %q", rec.Code, got.Result, tt.status, tt.result)
		}
	}
}

func TestServer_NoSession(t *testing.T) {
	s := NewServer("127.0.0.1", 0, staticSource{err: hue.ErrNotInitialized}, nil)

	if rec := do(t, s, "GET", "/api/lights", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /api/lights = %d, want 503", rec.Code)
	}
	if rec := do(t, s, "GET", "/api/events", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/events without ledger = %d, want 404", rec.Code)
	}
}

func TestServer_Events(t *testing.T) {
	s, _, events := newTestServer(t)
	events.entries = []*ledger.Entry{{ID: 1, EventType: "error", Bridge: huetest.Address}}

	rec := do(t, s, "GET", "/api/events?type=error&limit=5000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/events = %d", rec.Code)
	}
	if events.gotType != "error" || events.gotLim != maxEventLimit {
		t.Errorf("GetByType(%q, %d), want (error, %d)", events.gotType, events.gotLim, maxEventLimit)
	}

	do(t, s, "GET", "/api/events", "")
	if events.gotLim != defaultEventLimit {
		t.Errorf("Recent(%d), want %d", events.gotLim, defaultEventLimit)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not_initialized", err: hue.ErrNotInitialized, want: http.StatusServiceUnavailable},
		{name: "unknown_scene", err: hue.ErrUnknownScene, want: http.StatusNotFound},
		{name: "unsupported", err: hue.ErrUnsupported, want: http.StatusUnprocessableEntity},
		{name: "color", err: &hue.ColorError{Color: "mauve"}, want: http.StatusUnprocessableEntity},
		{name: "bridge_missing", err: &hue.BridgeError{Type: hue.ErrorTypeResourceNotFound}, want: http.StatusNotFound},
		{name: "bridge_off", err: &hue.BridgeError{Type: hue.ErrorTypeDeviceOff}, want: http.StatusBadGateway},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestServer_WebSocket(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.HandleEvent(eventbus.Event{
		Type: eventbus.EventTypeLightChanged,
		Data: map[string]interface{}{"bridge": huetest.Address, "id": "1"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg eventMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != eventbus.EventTypeLightChanged || msg.Data["id"] != "1" {
		t.Errorf("message = %+v", msg)
	}
}
