package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/huesync/internal/eventbus"
	"github.com/dokzlo13/huesync/internal/hue"
)

// SessionSource hands out the active bridge session.
type SessionSource interface {
	Session() (*hue.Session, error)
}

// HueModule provides hue.* functions to Lua.
//
// Functions that can fail return (result, error_string); on success the
// error is nil. Light objects are chainable and log their own failures:
//
//	local lamp, err = hue.light("5")
//	lamp:on():set({ bri = 200, color = "warm white" })
//
//	hue.on("light_found", function(ev)
//	    log.info("new light", { id = ev.id, name = ev.name })
//	end)
type HueModule struct {
	sessions SessionSource

	mu    sync.RWMutex
	hooks map[eventbus.EventType][]*lua.LFunction
}

// NewHueModule creates a new hue module
func NewHueModule(sessions SessionSource) *HueModule {
	return &HueModule{
		sessions: sessions,
		hooks:    make(map[eventbus.EventType][]*lua.LFunction),
	}
}

// Loader is the module loader for Lua
func (m *HueModule) Loader(L *lua.LState) int {
	registerLightType(L)

	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"light":          m.getLight,
		"lights":         m.getLights,
		"groups":         m.getGroups,
		"scenes":         m.getScenes,
		"activate_scene": m.activateScene,
		"create_scene":   m.createScene,
		"delete_scene":   m.deleteScene,
		"refresh":        m.refresh,
		"check_updates":  m.checkUpdates,
		"apply_updates":  m.applyUpdates,
		"search":         m.search,
		"on":             m.on,
	})

	L.Push(mod)
	return 1
}

// HasHooks reports whether a script registered a handler for t.
func (m *HueModule) HasHooks(t eventbus.EventType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooks[t]) > 0
}

// Dispatch calls every hook registered for the event. Must run on the Lua
// worker.
func (m *HueModule) Dispatch(L *lua.LState, event eventbus.Event) {
	m.mu.RLock()
	fns := append([]*lua.LFunction(nil), m.hooks[event.Type]...)
	m.mu.RUnlock()

	for _, fn := range fns {
		arg := MapToLuaTable(L, event.Data)
		L.SetField(arg, "type", lua.LString(event.Type))
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, arg); err != nil {
			log.Error().Err(err).Str("event_type", string(event.Type)).Msg("Lua event hook failed")
		}
	}
}

// on(event_type, fn) -> (ok, err)
func (m *HueModule) on(L *lua.LState) int {
	name := eventbus.EventType(L.CheckString(1))
	fn := L.CheckFunction(2)

	known := false
	for _, t := range eventbus.AllEventTypes {
		if t == name {
			known = true
			break
		}
	}
	if !known {
		return pushResult(L, fmt.Errorf("unknown event type %q", name))
	}

	m.mu.Lock()
	m.hooks[name] = append(m.hooks[name], fn)
	m.mu.Unlock()

	log.Debug().Str("event_type", string(name)).Msg("Registered Lua event hook")
	return pushResult(L, nil)
}

func (m *HueModule) session(L *lua.LState) (*hue.Session, context.Context, error) {
	s, err := m.sessions.Session()
	if err != nil {
		return nil, nil, err
	}
	return s, stateContext(L), nil
}

// light(id) -> (light, err). id may be a string or a number.
func (m *HueModule) getLight(L *lua.LState) int {
	id := L.CheckAny(1).String()
	s, _, err := m.session(L)
	if err != nil {
		return pushError(L, err)
	}
	if _, ok := s.LightSnapshot(id); !ok {
		return pushError(L, fmt.Errorf("%w: %s", hue.ErrUnknownLight, id))
	}
	pushLight(L, id, m.sessions)
	L.Push(lua.LNil)
	return 2
}

// lights() -> (array of light, err) in collection order
func (m *HueModule) getLights(L *lua.LState) int {
	s, _, err := m.session(L)
	if err != nil {
		return pushError(L, err)
	}

	tbl := L.NewTable()
	for _, snap := range s.LightSnapshots() {
		pushLight(L, snap.ID, m.sessions)
		tbl.Append(L.Get(-1))
		L.Pop(1)
	}
	L.Push(tbl)
	L.Push(lua.LNil)
	return 2
}

// groups() -> (array of {id, name, type, lights, all_on, any_on}, err)
func (m *HueModule) getGroups(L *lua.LState) int {
	s, _, err := m.session(L)
	if err != nil {
		return pushError(L, err)
	}

	tbl := L.NewTable()
	for _, g := range s.GroupSnapshots() {
		tbl.Append(MapToLuaTable(L, map[string]any{
			"id":     g.ID,
			"name":   g.Name,
			"type":   g.Type,
			"lights": g.Lights,
			"all_on": g.State.AllOn,
			"any_on": g.State.AnyOn,
		}))
	}
	L.Push(tbl)
	L.Push(lua.LNil)
	return 2
}

// scenes() -> (array of {id, name, lights}, err)
func (m *HueModule) getScenes(L *lua.LState) int {
	s, _, err := m.session(L)
	if err != nil {
		return pushError(L, err)
	}

	tbl := L.NewTable()
	for _, sc := range s.SceneSnapshots() {
		tbl.Append(MapToLuaTable(L, map[string]any{
			"id":     sc.ID,
			"name":   sc.Name,
			"lights": sc.Lights,
		}))
	}
	L.Push(tbl)
	L.Push(lua.LNil)
	return 2
}

// activate_scene(id) -> (ok, err)
func (m *HueModule) activateScene(L *lua.LState) int {
	id := L.CheckString(1)
	s, ctx, err := m.session(L)
	if err != nil {
		return pushResult(L, err)
	}
	return pushResult(L, s.ActivateScene(ctx, id))
}

// create_scene(name, {light ids}) -> (scene_id, err)
func (m *HueModule) createScene(L *lua.LState) int {
	name := L.CheckString(1)
	var ids []string
	L.CheckTable(2).ForEach(func(_, v lua.LValue) {
		ids = append(ids, v.String())
	})

	s, ctx, err := m.session(L)
	if err != nil {
		return pushError(L, err)
	}
	id, err := s.CreateScene(ctx, name, ids)
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LString(id))
	L.Push(lua.LNil)
	return 2
}

// delete_scene(id) -> (ok, err)
func (m *HueModule) deleteScene(L *lua.LState) int {
	id := L.CheckString(1)
	s, ctx, err := m.session(L)
	if err != nil {
		return pushResult(L, err)
	}
	return pushResult(L, s.DeleteScene(ctx, id))
}

// refresh([parts]) -> (ok, err). parts is an array like {"lights", "scenes"}.
func (m *HueModule) refresh(L *lua.LState) int {
	parts := hue.RefreshAll
	if tbl, ok := L.Get(1).(*lua.LTable); ok {
		var names []string
		tbl.ForEach(func(_, v lua.LValue) { names = append(names, v.String()) })
		p, err := hue.ParseRefreshParts(names)
		if err != nil {
			return pushResult(L, err)
		}
		parts = p
	}

	s, ctx, err := m.session(L)
	if err != nil {
		return pushResult(L, err)
	}
	return pushResult(L, s.Refresh(ctx, parts))
}

func (m *HueModule) begin(L *lua.LState, op func(*hue.Session, context.Context) hue.OperationResult) int {
	s, ctx, err := m.session(L)
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LString(op(s, ctx).String()))
	L.Push(lua.LNil)
	return 2
}

// check_updates() -> (result, err)
func (m *HueModule) checkUpdates(L *lua.LState) int {
	return m.begin(L, (*hue.Session).BeginCheckForSoftwareUpdates)
}

// apply_updates() -> (result, err)
func (m *HueModule) applyUpdates(L *lua.LState) int {
	return m.begin(L, (*hue.Session).BeginApplySoftwareUpdates)
}

// search() -> (result, err)
func (m *HueModule) search(L *lua.LState) int {
	return m.begin(L, (*hue.Session).BeginSearchForNewLights)
}

// tableToChanges maps a Lua table with bridge property names (bri, xy, ct,
// color, transitiontime, ...) onto LightChanges.
func tableToChanges(tbl *lua.LTable) (hue.LightChanges, error) {
	var ch hue.LightChanges
	data, err := json.Marshal(LuaTableToMap(tbl))
	if err != nil {
		return ch, err
	}
	if err := json.Unmarshal(data, &ch); err != nil {
		return ch, fmt.Errorf("invalid light state: %w", err)
	}
	return ch, nil
}
