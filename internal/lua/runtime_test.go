package lua

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/huesync/internal/db"
	"github.com/dokzlo13/huesync/internal/eventbus"
	"github.com/dokzlo13/huesync/internal/hue"
)

type noSession struct{}

func (noSession) Session() (*hue.Session, error) { return nil, hue.ErrNotInitialized }

func TestRuntime_EventHooks(t *testing.T) {
	r := NewRuntime(RuntimeDeps{Sessions: noSession{}})
	defer r.Close()

	err := r.LoadString(`
		local hue = require("hue")
		local log = require("log")
		completed = {}
		hue.on("search_completed", function(ev)
			log.info("search done", { result = ev.result })
			table.insert(completed, ev.result)
		end)
	`)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.HandleEvent(ctx, eventbus.Event{Type: eventbus.EventTypeSearchCompleted, Data: map[string]interface{}{"result": "completed"}})
	r.HandleEvent(ctx, eventbus.Event{Type: eventbus.EventTypeLightChanged, Data: map[string]interface{}{"id": "1"}})

	var got []string
	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	err = r.DoSync(waitCtx, func(context.Context) {
		r.L.GetGlobal("completed").(*lua.LTable).ForEach(func(_, v lua.LValue) {
			got = append(got, v.String())
		})
	})
	if err != nil {
		t.Fatalf("DoSync() error = %v", err)
	}
	if len(got) != 1 || got[0] != "completed" {
		t.Errorf("completed = %v, want [completed]", got)
	}
}

func TestRuntime_Closed(t *testing.T) {
	r := NewRuntime(RuntimeDeps{Sessions: noSession{}, QueueSize: 1})
	r.Close()

	if r.Do(context.Background(), func(context.Context) {}) {
		t.Error("Do() = true after Close()")
	}
	if err := r.DoSync(context.Background(), func(context.Context) {}); !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("DoSync() error = %v, want ErrRuntimeClosed", err)
	}
}

func TestRuntime_QueueFull(t *testing.T) {
	r := NewRuntime(RuntimeDeps{Sessions: noSession{}, QueueSize: 1})
	defer r.Close()

	ctx := context.Background()
	if !r.Do(ctx, func(context.Context) {}) {
		t.Fatal("first Do() = false")
	}
	if r.Do(ctx, func(context.Context) {}) {
		t.Error("Do() on a full queue = true")
	}
}

func TestRuntime_LoadScript(t *testing.T) {
	r := NewRuntime(RuntimeDeps{Sessions: noSession{}})
	defer r.Close()

	dir := t.TempDir()
	good := filepath.Join(dir, "main.lua")
	if err := os.WriteFile(good, []byte(`loaded = true`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := r.LoadScript(good); err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	if r.L.GetGlobal("loaded") != lua.LTrue {
		t.Error("script did not run")
	}

	if err := r.LoadScript(filepath.Join(dir, "missing.lua")); err == nil {
		t.Error("LoadScript(missing) error = nil")
	}
}

func TestRuntime_KVModule(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "kv.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	defer database.Close()

	r := NewRuntime(RuntimeDeps{Sessions: noSession{}, DB: database.DB})
	defer r.Close()

	err = r.LoadString(`
		local kv = require("kv")
		local b = kv:bucket("scenes")
		b:store("evening", { scene = "abc", bri = 120 })
		b:store("ttl", 1, { ttl = 60 })
		local v = b:get("evening")
		scene, bri = v.scene, v.bri
		exists = b:exists("evening")
		missing = b:get("nope")
		keys = #b:keys()
		deleted = b:delete("evening")
		reserved = pcall(function() return kv:bucket("credentials") end)
	`)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}

	tests := []struct {
		name string
		want lua.LValue
	}{
		{name: "scene", want: lua.LString("abc")},
		{name: "bri", want: lua.LNumber(120)},
		{name: "exists", want: lua.LTrue},
		{name: "missing", want: lua.LNil},
		{name: "keys", want: lua.LNumber(2)},
		{name: "deleted", want: lua.LTrue},
		{name: "reserved", want: lua.LFalse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.L.GetGlobal(tt.name); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}
