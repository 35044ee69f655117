package hue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/huesync/internal/eventbus"
)

func TestSessionInitialize(t *testing.T) {
	ft := newBridgeTransport()
	pub := &recordingPublisher{}
	s := newTestSession(t, ft, pub)

	if !s.Initialized() {
		t.Fatal("Initialized() = false, want true")
	}
	if got := len(pub.ofType(eventbus.EventTypeBridgeConfigChanged)); got != 1 {
		t.Errorf("bridge_config_changed events = %d, want 1", got)
	}
	if got := len(pub.ofType(eventbus.EventTypeLightChanged)); got != 2 {
		t.Errorf("light_changed events = %d, want 2", got)
	}
	if got := len(pub.ofType(eventbus.EventTypeGroupChanged)); got != 1 {
		t.Errorf("group_changed events = %d, want 1", got)
	}
	if got := len(pub.ofType(eventbus.EventTypeSceneChanged)); got != 1 {
		t.Errorf("scene_changed events = %d, want 1", got)
	}

	// Sorted by name: Attic, Kitchen
	if got := lightIDs(s.Lights()); !equalStrings(got, []string{"2", "1"}) {
		t.Errorf("Lights() = %v, want [2 1]", got)
	}
	for _, e := range pub.ofType(eventbus.EventTypeLightChanged) {
		if e.Data["bridge"] != "bridge.local" {
			t.Errorf("event bridge = %v, want bridge.local", e.Data["bridge"])
		}
	}
}

func TestSessionInitialize_NotWhitelisted(t *testing.T) {
	ft := newBridgeTransport()
	pub := &recordingPublisher{}
	opts := testOptions()
	opts.Username = "stranger"
	s := NewSession(opts, ft, pub, nil)

	err := s.Initialize(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Initialize() error = %v, want ErrNotAuthenticated", err)
	}
	if s.Initialized() {
		t.Error("Initialized() = true, want false")
	}
	if got := len(pub.ofType(eventbus.EventTypeError)); got != 1 {
		t.Errorf("error events = %d, want 1", got)
	}
	if got := len(ft.callsTo("GET", "lights")); got != 0 {
		t.Errorf("GET lights calls = %d, want 0", got)
	}
}

func TestSessionInitialize_BridgeError(t *testing.T) {
	ft := newBridgeTransport()
	ft.respond("GET", "config", `[{"error": {"type": 1, "address": "/", "description": "unauthorized user"}}]`)
	pub := &recordingPublisher{}
	s := NewSession(testOptions(), ft, pub, nil)

	err := s.Initialize(context.Background())
	var be *BridgeError
	if !errors.As(err, &be) || be.Type != ErrorTypeUnauthorizedUser {
		t.Fatalf("Initialize() error = %v, want bridge error 1", err)
	}
	events := pub.ofType(eventbus.EventTypeError)
	if len(events) != 1 || events[0].Data["code"] != ErrorTypeUnauthorizedUser {
		t.Errorf("error events = %v, want one with code 1", events)
	}
}

func TestSessionNotInitialized(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSession(testOptions(), newBridgeTransport(), pub, nil)

	tests := []struct {
		name string
		call func() error
	}{
		{name: "SetLightProperties", call: func() error {
			return s.SetLightProperties(context.Background(), "1", LightChanges{On: boolPtr(true)})
		}},
		{name: "Refresh", call: func() error { return s.Refresh(context.Background(), RefreshAll) }},
		{name: "StartRamp", call: func() error { return s.StartRamp(context.Background(), "1", RampRaise) }},
		{name: "DeleteScene", call: func() error { return s.DeleteScene(context.Background(), "abc") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrNotInitialized) {
				t.Errorf("%s() error = %v, want ErrNotInitialized", tt.name, err)
			}
		})
	}
	if got := s.BeginSearchForNewLights(context.Background()); got != ResultFailed {
		t.Errorf("BeginSearchForNewLights() = %v, want %v", got, ResultFailed)
	}
}

func TestSessionRefresh_Idempotent(t *testing.T) {
	ft := newBridgeTransport()
	pub := &recordingPublisher{}
	s := newTestSession(t, ft, pub)
	pub.reset()

	if err := s.Refresh(context.Background(), RefreshAll); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(pub.events) != 0 {
		t.Errorf("Refresh() of unchanged bridge raised %d events", len(pub.events))
	}
}

func TestSessionRefresh_ChangedLight(t *testing.T) {
	ft := newBridgeTransport()
	pub := &recordingPublisher{}
	s := newTestSession(t, ft, pub)
	kitchen, _ := s.LightByID("1")
	pub.reset()

	ft.respond("GET", "lights", `{
		"1": `+lightJSON("Kitchen", "ct", false, 100)+`,
		"2": {"uniqueid": "00:17:88:01:00:bb:bb:bb-0b", "type": "Dimmable light", "name": "Attic",
			"state": {"on": false, "bri": 1, "alert": "none", "reachable": true}}
	}`)
	if err := s.Refresh(context.Background(), RefreshLights); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	events := pub.ofType(eventbus.EventTypeLightChanged)
	if len(events) != 1 || events[0].Data["id"] != "1" {
		t.Fatalf("light_changed events = %v, want one for light 1", events)
	}
	if again, _ := s.LightByID("1"); again != kitchen || again.State.On {
		t.Errorf("light 1 = %p on=%v, want same instance switched off", again, again.State.On)
	}
}

func TestSetLightProperties(t *testing.T) {
	ft := newBridgeTransport()
	ft.echoState("1")
	pub := &recordingPublisher{}
	s := newTestSession(t, ft, pub)
	pub.reset()

	if err := s.SetLightProperties(context.Background(), "1", LightChanges{Brightness: intPtr(200), XY: xyPtr(0.5, 0.4)}); err != nil {
		t.Fatalf("SetLightProperties() error = %v", err)
	}

	calls := ft.callsTo("PUT", "lights/1/state")
	if len(calls) != 1 {
		t.Fatalf("PUT calls = %d, want 1", len(calls))
	}
	if want := `{"bri":200,"xy":[0.5,0.4]}`; calls[0].body != want {
		t.Errorf("PUT body = %s, want %s", calls[0].body, want)
	}

	light, _ := s.LightByID("1")
	if light.State.Brightness != 200 {
		t.Errorf("Brightness = %d, want 200", light.State.Brightness)
	}
	if light.State.XY != [2]float64{0.5, 0.4} {
		t.Errorf("XY = %v, want [0.5 0.4]", light.State.XY)
	}
	if light.State.ColorMode() != ColorModeXY {
		t.Errorf("ColorMode() = %v, want xy", light.State.ColorMode())
	}
	if got := len(pub.ofType(eventbus.EventTypeLightChanged)); got != 1 {
		t.Errorf("light_changed events = %d, want 1", got)
	}
}

func TestSetLightProperties_NoopSendsNothing(t *testing.T) {
	ft := newBridgeTransport()
	ft.echoState("1")
	s := newTestSession(t, ft, &recordingPublisher{})

	if err := s.SetLightProperties(context.Background(), "1", LightChanges{Brightness: intPtr(100)}); err != nil {
		t.Fatalf("SetLightProperties() error = %v", err)
	}
	if got := len(ft.callsTo("PUT", "lights/1/state")); got != 0 {
		t.Errorf("PUT calls = %d, want 0", got)
	}
}

func TestSetLightProperties_UnknownLight(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestSession(t, newBridgeTransport(), pub)
	pub.reset()

	err := s.SetLightProperties(context.Background(), "99", LightChanges{On: boolPtr(true)})
	if !errors.Is(err, ErrUnknownLight) {
		t.Fatalf("SetLightProperties() error = %v, want ErrUnknownLight", err)
	}
	if got := len(pub.ofType(eventbus.EventTypeError)); got != 1 {
		t.Errorf("error events = %d, want 1", got)
	}
}

func TestSetLightProperties_OverlappingWriteDropped(t *testing.T) {
	ft := newBridgeTransport()
	release := make(chan struct{})
	ft.handle("PUT", "lights/1/state", func(string) (string, error) {
		<-release
		return `[{"success": {"/lights/1/state/bri": 200}}]`, nil
	})
	s := newTestSession(t, ft, &recordingPublisher{})

	done := make(chan error, 1)
	go func() {
		done <- s.SetLightProperties(context.Background(), "1", LightChanges{Brightness: intPtr(200)})
	}()
	waitFor(t, "first write in flight", func() bool {
		return len(ft.callsTo("PUT", "lights/1/state")) == 1
	})

	if err := s.SetLightProperties(context.Background(), "1", LightChanges{Brightness: intPtr(50)}); err != nil {
		t.Errorf("overlapping SetLightProperties() error = %v, want nil", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first SetLightProperties() error = %v", err)
	}

	if got := len(ft.callsTo("PUT", "lights/1/state")); got != 1 {
		t.Errorf("PUT calls = %d, want 1", got)
	}
	if light, _ := s.LightByID("1"); light.State.Brightness != 200 {
		t.Errorf("Brightness = %d, want 200", light.State.Brightness)
	}
}

func TestSetLightProperties_FailedModeChangeRereads(t *testing.T) {
	ft := newBridgeTransport()
	ft.respond("PUT", "lights/1/state", `[
		{"success": {"/lights/1/state/bri": 150}},
		{"error": {"type": 201, "address": "/lights/1/state/xy", "description": "parameter, xy, is not modifiable. Device is set to off."}}
	]`)
	ft.respond("GET", "lights/1", lightJSON("Kitchen", "hs", true, 150))
	pub := &recordingPublisher{}
	s := newTestSession(t, ft, pub)
	pub.reset()

	err := s.SetLightProperties(context.Background(), "1", LightChanges{Brightness: intPtr(150), XY: xyPtr(0.5, 0.4)})
	var be *BridgeError
	if !errors.As(err, &be) || be.Type != ErrorTypeDeviceOff {
		t.Fatalf("SetLightProperties() error = %v, want bridge error 201", err)
	}

	if got := len(ft.callsTo("GET", "lights/1")); got != 1 {
		t.Errorf("GET lights/1 calls = %d, want 1", got)
	}
	light, _ := s.LightByID("1")
	if light.State.ColorMode() != ColorModeHueSaturation {
		t.Errorf("ColorMode() = %v, want hs from the re-read", light.State.ColorMode())
	}
	if light.State.Brightness != 150 {
		t.Errorf("Brightness = %d, want 150", light.State.Brightness)
	}

	errs := pub.ofType(eventbus.EventTypeError)
	if len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}
	if errs[0].Data["code"] != ErrorTypeDeviceOff || errs[0].Data["address"] != "/lights/1/state/xy" {
		t.Errorf("error event = %v, want code 201 at /lights/1/state/xy", errs[0].Data)
	}
}

func TestToggleAndInstantOff(t *testing.T) {
	ft := newBridgeTransport()
	ft.echoState("2")
	ft.respond("GET", "lights/2", `{"uniqueid": "00:17:88:01:00:bb:bb:bb-0b", "type": "Dimmable light", "name": "Attic",
		"state": {"on": false, "bri": 1, "alert": "none", "reachable": true}}`)
	s := newTestSession(t, ft, &recordingPublisher{})

	if err := s.Toggle(context.Background(), "2"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if light, _ := s.LightByID("2"); !light.State.On {
		t.Error("light 2 still off after Toggle()")
	}

	if err := s.InstantOff(context.Background(), "2"); err != nil {
		t.Fatalf("InstantOff() error = %v", err)
	}
	calls := ft.callsTo("PUT", "lights/2/state")
	if len(calls) != 2 {
		t.Fatalf("PUT calls = %d, want 2", len(calls))
	}
	if want := `{"on":false,"transitiontime":0}`; calls[1].body != want {
		t.Errorf("InstantOff body = %s, want %s", calls[1].body, want)
	}
	if got := len(ft.callsTo("GET", "lights/2")); got != 1 {
		t.Errorf("GET lights/2 calls = %d, want 1", got)
	}
}

func TestRaiseLowerBrightness(t *testing.T) {
	ft := newBridgeTransport()
	ft.echoState("1")
	s := newTestSession(t, ft, &recordingPublisher{})

	if err := s.RaiseBrightness(context.Background(), "1", 0); err != nil {
		t.Fatalf("RaiseBrightness() error = %v", err)
	}
	if err := s.LowerBrightnessPercent(context.Background(), "1", 10); err != nil {
		t.Fatalf("LowerBrightnessPercent() error = %v", err)
	}

	calls := ft.callsTo("PUT", "lights/1/state")
	want := []string{`{"bri_inc":2}`, `{"bri_inc":-25}`}
	if len(calls) != len(want) {
		t.Fatalf("PUT calls = %d, want %d", len(calls), len(want))
	}
	for i := range want {
		if calls[i].body != want[i] {
			t.Errorf("PUT %d body = %s, want %s", i, calls[i].body, want[i])
		}
	}
	if light, _ := s.LightByID("1"); light.State.Brightness != 77 {
		t.Errorf("Brightness = %d, want 77", light.State.Brightness)
	}
}

func TestTemporaryChange(t *testing.T) {
	ft := newBridgeTransport()
	ft.echoState("1")
	s := newTestSession(t, ft, &recordingPublisher{})
	ctx := context.Background()

	if err := s.BeginTemporaryChange("1"); err != nil {
		t.Fatalf("BeginTemporaryChange() error = %v", err)
	}
	if err := s.SetLightProperties(ctx, "1", LightChanges{Brightness: intPtr(254)}); err != nil {
		t.Fatalf("SetLightProperties() error = %v", err)
	}
	// Nested begin keeps the first snapshot
	if err := s.BeginTemporaryChange("1"); err != nil {
		t.Fatalf("BeginTemporaryChange() error = %v", err)
	}
	if err := s.EndTemporaryChange(ctx, "1"); err != nil {
		t.Fatalf("EndTemporaryChange() error = %v", err)
	}

	calls := ft.callsTo("PUT", "lights/1/state")
	if len(calls) != 2 {
		t.Fatalf("PUT calls = %d, want 2", len(calls))
	}
	if want := `{"bri":100}`; calls[1].body != want {
		t.Errorf("restore body = %s, want %s", calls[1].body, want)
	}

	if err := s.EndTemporaryChange(ctx, "1"); err != nil {
		t.Fatalf("second EndTemporaryChange() error = %v", err)
	}
	if got := len(ft.callsTo("PUT", "lights/1/state")); got != 2 {
		t.Errorf("PUT calls after second end = %d, want 2", got)
	}
}

func TestRenameLight_Resorts(t *testing.T) {
	ft := newBridgeTransport()
	ft.respond("PUT", "lights/2", `[{"success": {"/lights/2/name": "Zoo"}}]`)
	pub := &recordingPublisher{}
	s := newTestSession(t, ft, pub)
	pub.reset()

	if err := s.RenameLight(context.Background(), "2", "Zoo"); err != nil {
		t.Fatalf("RenameLight() error = %v", err)
	}
	if calls := ft.callsTo("PUT", "lights/2"); len(calls) != 1 || calls[0].body != `{"name":"Zoo"}` {
		t.Errorf("PUT lights/2 = %v, want one call with the new name", calls)
	}
	if got := lightIDs(s.Lights()); !equalStrings(got, []string{"1", "2"}) {
		t.Errorf("Lights() = %v, want [1 2]", got)
	}
	if light, _ := s.LightByID("2"); light.Name != "Zoo" || light.Index != 1 {
		t.Errorf("light 2 = %q at %d, want Zoo at 1", light.Name, light.Index)
	}
	if got := len(pub.ofType(eventbus.EventTypeLightChanged)); got != 2 {
		t.Errorf("light_changed events = %d, want 2", got)
	}
}

func TestDeleteLight(t *testing.T) {
	ft := newBridgeTransport()
	ft.respond("DELETE", "lights/2", `[{"success": "/lights/2 deleted"}]`)
	pub := &recordingPublisher{}
	s := newTestSession(t, ft, pub)
	pub.reset()

	if err := s.DeleteLight(context.Background(), "00:17:88:01:00:bb:bb:bb-0b", true); err != nil {
		t.Fatalf("DeleteLight() error = %v", err)
	}
	if _, ok := s.LightByID("2"); ok {
		t.Error("light 2 still present")
	}
	events := pub.ofType(eventbus.EventTypeLightChanged)
	if len(events) != 1 || events[0].Data["id"] != "1" || events[0].Data["index"] != 0 {
		t.Errorf("light_changed events = %v, want light 1 at index 0", events)
	}
}

func TestDeleteLight_LastInOrderMovesNothing(t *testing.T) {
	ft := newBridgeTransport()
	ft.respond("DELETE", "lights/1", `[{"success": "/lights/1 deleted"}]`)
	pub := &recordingPublisher{}
	s := newTestSession(t, ft, pub)
	pub.reset()

	if err := s.DeleteLight(context.Background(), "1", false); err != nil {
		t.Fatalf("DeleteLight() error = %v", err)
	}
	if events := pub.ofType(eventbus.EventTypeLightChanged); len(events) != 0 {
		t.Errorf("light_changed events = %v, want none", events)
	}
}

func TestScenes(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		ft := newBridgeTransport()
		ft.respond("POST", "scenes", `[{"success": {"id": "xyz"}}]`)
		ft.respond("GET", "scenes/xyz", `{"name": "Bright", "lights": ["1", "2"], "owner": "user", "recycle": false, "locked": false, "version": 2}`)
		pub := &recordingPublisher{}
		s := newTestSession(t, ft, pub)
		pub.reset()

		id, err := s.CreateScene(context.Background(), "Bright", []string{"1", "2"})
		if err != nil {
			t.Fatalf("CreateScene() error = %v", err)
		}
		if id != "xyz" {
			t.Errorf("CreateScene() = %q, want xyz", id)
		}
		calls := ft.callsTo("POST", "scenes")
		if want := `{"lights":["1","2"],"name":"Bright","recycle":false}`; len(calls) != 1 || calls[0].body != want {
			t.Errorf("POST scenes = %v, want body %s", calls, want)
		}
		if sc, ok := s.SceneByID("xyz"); !ok || sc.Name != "Bright" {
			t.Errorf("SceneByID(xyz) = %v, %v, want Bright", sc, ok)
		}
		if got := len(pub.ofType(eventbus.EventTypeSceneChanged)); got != 1 {
			t.Errorf("scene_changed events = %d, want 1", got)
		}
	})

	t.Run("delete", func(t *testing.T) {
		ft := newBridgeTransport()
		ft.respond("DELETE", "scenes/abc", `[{"success": "/scenes/abc deleted"}]`)
		s := newTestSession(t, ft, &recordingPublisher{})

		if err := s.DeleteScene(context.Background(), "abc"); err != nil {
			t.Fatalf("DeleteScene() error = %v", err)
		}
		if _, ok := s.SceneByID("abc"); ok {
			t.Error("scene abc still present")
		}
	})

	t.Run("delete_unconfirmed", func(t *testing.T) {
		ft := newBridgeTransport()
		ft.respond("DELETE", "scenes/abc", `[]`)
		s := newTestSession(t, ft, &recordingPublisher{})

		if err := s.DeleteScene(context.Background(), "abc"); !errors.Is(err, ErrUnexpectedResponse) {
			t.Fatalf("DeleteScene() error = %v, want ErrUnexpectedResponse", err)
		}
		if _, ok := s.SceneByID("abc"); !ok {
			t.Error("scene abc removed without confirmation")
		}
	})

	t.Run("activate", func(t *testing.T) {
		ft := newBridgeTransport()
		ft.respond("PUT", "groups/0/action", `[{"success": {"/groups/0/action/scene": "abc"}}]`)
		s := newTestSession(t, ft, &recordingPublisher{})

		if err := s.ActivateScene(context.Background(), "abc"); err != nil {
			t.Fatalf("ActivateScene() error = %v", err)
		}
		if calls := ft.callsTo("PUT", "groups/0/action"); len(calls) != 1 || calls[0].body != `{"scene":"abc"}` {
			t.Errorf("PUT groups/0/action = %v, want scene abc", calls)
		}
		if got := len(ft.callsTo("GET", "lights")); got != 2 {
			t.Errorf("GET lights calls = %d, want 2", got)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		s := newTestSession(t, newBridgeTransport(), &recordingPublisher{})
		if err := s.ActivateScene(context.Background(), "nope"); !errors.Is(err, ErrUnknownScene) {
			t.Errorf("ActivateScene() error = %v, want ErrUnknownScene", err)
		}
	})
}

func TestSessionUninitialize(t *testing.T) {
	ft := newBridgeTransport()
	s := NewSession(testOptions(), ft, &recordingPublisher{}, nil)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	cfg := s.Config()

	s.Uninitialize()
	if s.Initialized() {
		t.Error("Initialized() = true after Uninitialize()")
	}
	if s.Config() != cfg {
		t.Error("Uninitialize() replaced the configuration instance")
	}
	if cfg.BridgeID != "" || cfg.IsWhitelisted("user") {
		t.Errorf("held configuration not reset: %+v", cfg)
	}
	if n := len(s.Lights()); n != 0 {
		t.Errorf("len(Lights()) = %d, want 0", n)
	}
	if s.Config().IsWhitelisted("user") {
		t.Error("config survived Uninitialize()")
	}
	// A second call is harmless
	s.Uninitialize()
}

func TestSessionPeriodicRefresh(t *testing.T) {
	ft := newBridgeTransport()
	opts := testOptions()
	opts.RefreshInterval = 10 * time.Millisecond
	newTestSessionWith(t, opts, ft, &recordingPublisher{})

	waitFor(t, "periodic refresh", func() bool {
		return len(ft.callsTo("GET", "scenes")) >= 3
	})
}

func TestParseRefreshParts(t *testing.T) {
	tests := []struct {
		in      []string
		want    RefreshParts
		wantErr bool
	}{
		{in: []string{"lights", "Groups"}, want: RefreshLights | RefreshGroups},
		{in: []string{"bridge", "scenes"}, want: RefreshBridge | RefreshScenes},
		{in: []string{"all"}, want: RefreshAll},
		{in: nil, want: 0},
		{in: []string{"sensors"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.in, ","), func(t *testing.T) {
			got, err := ParseRefreshParts(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRefreshParts() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRefreshParts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUntilMinuteOfDay(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		name   string
		now    time.Time
		minute int
		want   time.Duration
	}{
		{name: "later_today", now: time.Date(2026, 10, 19, 1, 0, 0, 0, loc), minute: 180, want: 2 * time.Hour},
		{name: "tomorrow", now: time.Date(2026, 10, 19, 4, 0, 0, 0, loc), minute: 180, want: 23 * time.Hour},
		{name: "exactly_now", now: time.Date(2026, 10, 19, 3, 0, 0, 0, loc), minute: 180, want: 24 * time.Hour},
		{name: "wraps_minute", now: time.Date(2026, 10, 19, 0, 0, 0, 0, loc), minute: 24*60 + 30, want: 30 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := untilMinuteOfDay(tt.now, tt.minute); got != tt.want {
				t.Errorf("untilMinuteOfDay() = %v, want %v", got, tt.want)
			}
		})
	}
}
