package modules

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/huesync/internal/hue"
)

const lightTypeName = "hue.light"

// LightUserdata is a Lua handle to a light. It holds the bridge ID only and
// reads the session mirror on every call, so it never goes stale.
type LightUserdata struct {
	id       string
	sessions SessionSource
}

func registerLightType(L *lua.LState) {
	mt := L.NewTypeMetatable(lightTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), lightMethods))
	L.SetField(mt, "__tostring", L.NewFunction(lightToString))
}

var lightMethods = map[string]lua.LGFunction{
	// Getters
	"id":        lightGetID,
	"unique_id": lightGetUniqueID,
	"name":      lightGetName,
	"is_on":     lightIsOn,
	"get_bri":   lightGetBri,
	"state":     lightGetState,
	"ramps":     lightGetRamps,

	// Chainable setters, failures are logged
	"on":        lightOn,
	"off":       lightOff,
	"toggle":    lightToggle,
	"set":       lightSet,
	"set_bri":   lightSetBri,
	"set_color": lightSetColor,
	"set_xy":    lightSetXY,
	"set_ct":    lightSetCT,
	"set_hue":   lightSetHue,
	"set_sat":   lightSetSat,
	"alert":     lightAlert,
	"raise":     lightRaise,
	"lower":     lightLower,

	// (ok, err)
	"ramp":      lightRamp,
	"stop_ramp": lightStopRamp,
	"rename":    lightRename,
}

func pushLight(L *lua.LState, id string, sessions SessionSource) {
	ud := L.NewUserData()
	ud.Value = &LightUserdata{id: id, sessions: sessions}
	L.SetMetatable(ud, L.GetTypeMetatable(lightTypeName))
	L.Push(ud)
}

func checkLight(L *lua.LState) (*LightUserdata, *lua.LUserData) {
	ud := L.CheckUserData(1)
	if v, ok := ud.Value.(*LightUserdata); ok {
		return v, ud
	}
	L.ArgError(1, "hue.light expected")
	return nil, nil
}

func (l *LightUserdata) snapshot() (hue.LightSnapshot, error) {
	s, err := l.sessions.Session()
	if err != nil {
		return hue.LightSnapshot{}, err
	}
	snap, ok := s.LightSnapshot(l.id)
	if !ok {
		return hue.LightSnapshot{}, fmt.Errorf("%w: %s", hue.ErrUnknownLight, l.id)
	}
	return snap, nil
}

// chain runs op against the session and returns the light for chaining.
func chain(L *lua.LState, what string, op func(*hue.Session, context.Context, string) error) int {
	light, ud := checkLight(L)
	s, err := light.sessions.Session()
	if err == nil {
		err = op(s, stateContext(L), light.id)
	}
	if err != nil {
		log.Error().Err(err).Str("light", light.id).Msg("Failed to " + what)
	}
	L.Push(ud)
	return 1
}

func lightToString(L *lua.LState) int {
	light, _ := checkLight(L)
	L.Push(lua.LString("hue.light(" + light.id + ")"))
	return 1
}

// =============================================================================
// Getters
// =============================================================================

// light:id() -> string
func lightGetID(L *lua.LState) int {
	light, _ := checkLight(L)
	L.Push(lua.LString(light.id))
	return 1
}

// light:unique_id() -> string or nil
func lightGetUniqueID(L *lua.LState) int {
	light, _ := checkLight(L)
	snap, err := light.snapshot()
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(snap.UniqueID))
	return 1
}

// light:name() -> string or nil
func lightGetName(L *lua.LState) int {
	light, _ := checkLight(L)
	snap, err := light.snapshot()
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(snap.Name))
	return 1
}

// light:is_on() -> bool
func lightIsOn(L *lua.LState) int {
	light, _ := checkLight(L)
	snap, err := light.snapshot()
	L.Push(lua.LBool(err == nil && snap.State.On))
	return 1
}

// light:get_bri() -> number
func lightGetBri(L *lua.LState) int {
	light, _ := checkLight(L)
	snap, _ := light.snapshot()
	L.Push(lua.LNumber(snap.State.Brightness))
	return 1
}

// light:state() -> (table, err)
func lightGetState(L *lua.LState) int {
	light, _ := checkLight(L)
	snap, err := light.snapshot()
	if err != nil {
		return pushError(L, err)
	}
	st := snap.State
	L.Push(MapToLuaTable(L, map[string]any{
		"on":        st.On,
		"bri":       st.Brightness,
		"hue":       st.Hue,
		"sat":       st.Saturation,
		"xy":        []interface{}{st.XY[0], st.XY[1]},
		"ct":        st.ColorTemperature,
		"alert":     string(st.Alert),
		"effect":    string(st.Effect),
		"colormode": snap.ColorMode,
		"reachable": st.Reachable,
	}))
	L.Push(lua.LNil)
	return 2
}

// light:ramps() -> array of running ramp kinds
func lightGetRamps(L *lua.LState) int {
	light, _ := checkLight(L)
	snap, _ := light.snapshot()
	L.Push(GoToLuaValue(L, snap.Ramps))
	return 1
}

// =============================================================================
// Chainable setters
// =============================================================================

// light:on() -> self
func lightOn(L *lua.LState) int {
	return chain(L, "turn on light", func(s *hue.Session, ctx context.Context, id string) error {
		on := true
		return s.SetLightProperties(ctx, id, hue.LightChanges{On: &on})
	})
}

// light:off() -> self
func lightOff(L *lua.LState) int {
	return chain(L, "turn off light", func(s *hue.Session, ctx context.Context, id string) error {
		off := false
		return s.SetLightProperties(ctx, id, hue.LightChanges{On: &off})
	})
}

// light:toggle() -> self
func lightToggle(L *lua.LState) int {
	return chain(L, "toggle light", (*hue.Session).Toggle)
}

// light:set({ bri = 200, ct = 366, transitiontime = 10 }) -> self
func lightSet(L *lua.LState) int {
	ch, err := tableToChanges(L.CheckTable(2))
	if err != nil {
		L.ArgError(2, err.Error())
		return 0
	}
	return chain(L, "set light state", func(s *hue.Session, ctx context.Context, id string) error {
		return s.SetLightProperties(ctx, id, ch)
	})
}

// light:set_bri(value) -> self
func lightSetBri(L *lua.LState) int {
	bri := L.CheckInt(2)
	return chain(L, "set brightness", func(s *hue.Session, ctx context.Context, id string) error {
		return s.SetLightProperties(ctx, id, hue.LightChanges{Brightness: &bri})
	})
}

// light:set_color("#ff8800" or "warm white") -> self
func lightSetColor(L *lua.LState) int {
	color := L.CheckString(2)
	return chain(L, "set color", func(s *hue.Session, ctx context.Context, id string) error {
		return s.SetLightProperties(ctx, id, hue.LightChanges{Color: color})
	})
}

// light:set_xy(x, y) -> self
func lightSetXY(L *lua.LState) int {
	xy := [2]float64{float64(L.CheckNumber(2)), float64(L.CheckNumber(3))}
	return chain(L, "set color XY", func(s *hue.Session, ctx context.Context, id string) error {
		return s.SetLightProperties(ctx, id, hue.LightChanges{XY: &xy})
	})
}

// light:set_ct(mirek) -> self
func lightSetCT(L *lua.LState) int {
	ct := L.CheckInt(2)
	return chain(L, "set color temperature", func(s *hue.Session, ctx context.Context, id string) error {
		return s.SetLightProperties(ctx, id, hue.LightChanges{ColorTemperature: &ct})
	})
}

// light:set_hue(value) -> self
func lightSetHue(L *lua.LState) int {
	h := L.CheckInt(2)
	return chain(L, "set hue", func(s *hue.Session, ctx context.Context, id string) error {
		return s.SetLightProperties(ctx, id, hue.LightChanges{Hue: &h})
	})
}

// light:set_sat(value) -> self
func lightSetSat(L *lua.LState) int {
	sat := L.CheckInt(2)
	return chain(L, "set saturation", func(s *hue.Session, ctx context.Context, id string) error {
		return s.SetLightProperties(ctx, id, hue.LightChanges{Saturation: &sat})
	})
}

// light:alert(["select"|"lselect"|"none"]) -> self
func lightAlert(L *lua.LState) int {
	alert := hue.Alert(L.OptString(2, string(hue.AlertSelect)))
	return chain(L, "alert light", func(s *hue.Session, ctx context.Context, id string) error {
		return s.SetLightProperties(ctx, id, hue.LightChanges{Alert: &alert})
	})
}

// light:raise([steps]) -> self
func lightRaise(L *lua.LState) int {
	n := L.OptInt(2, 25)
	return chain(L, "raise brightness", func(s *hue.Session, ctx context.Context, id string) error {
		return s.RaiseBrightness(ctx, id, n)
	})
}

// light:lower([steps]) -> self
func lightLower(L *lua.LState) int {
	n := L.OptInt(2, 25)
	return chain(L, "lower brightness", func(s *hue.Session, ctx context.Context, id string) error {
		return s.LowerBrightness(ctx, id, n)
	})
}

// =============================================================================
// Ramps and naming
// =============================================================================

func rampCall(L *lua.LState, op func(*hue.Session, context.Context, string, hue.RampKind) error) int {
	light, _ := checkLight(L)
	kind, err := hue.ParseRampKind(L.CheckString(2))
	if err != nil {
		return pushResult(L, err)
	}
	s, err := light.sessions.Session()
	if err != nil {
		return pushResult(L, err)
	}
	return pushResult(L, op(s, stateContext(L), light.id, kind))
}

// light:ramp("raise"|"lower"|"cycle_dim"|"cycle_hue"|"cycle_sat"|"cycle_ct") -> (ok, err)
func lightRamp(L *lua.LState) int {
	return rampCall(L, (*hue.Session).StartRamp)
}

// light:stop_ramp(kind) -> (ok, err)
func lightStopRamp(L *lua.LState) int {
	return rampCall(L, func(s *hue.Session, _ context.Context, id string, kind hue.RampKind) error {
		return s.StopRamp(id, kind)
	})
}

// light:rename(name) -> (ok, err)
func lightRename(L *lua.LState) int {
	light, _ := checkLight(L)
	name := L.CheckString(2)
	s, err := light.sessions.Session()
	if err != nil {
		return pushResult(L, err)
	}
	return pushResult(L, s.RenameLight(stateContext(L), light.id, name))
}
