package hue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/huesync/internal/eventbus"
)

func intPtr(v int) *int { return &v }

func boolPtr(b bool) *bool { return &b }

type fakeCall struct {
	method string
	path   string
	body   string
}

// fakeTransport answers bridge requests from per-route handlers. Routes are
// keyed by method and the path after /api/<username>/.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]func(body string) (string, error)
	calls    []fakeCall
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func(string) (string, error))}
}

func (f *fakeTransport) handle(method, path string, fn func(body string) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method+" "+path] = fn
}

func (f *fakeTransport) respond(method, path, response string) {
	f.handle(method, path, func(string) (string, error) { return response, nil })
}

// echoState confirms every key of a light state write.
func (f *fakeTransport) echoState(id string) {
	f.handle("PUT", "lights/"+id+"/state", func(body string) (string, error) {
		var values map[string]json.RawMessage
		if err := json.Unmarshal([]byte(body), &values); err != nil {
			return "", err
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf(`{"success":{"/lights/%s/state/%s":%s}}`, id, k, values[k]))
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	})
}

func (f *fakeTransport) do(method, url, body string) (string, error) {
	path := bridgePath(url)
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{method: method, path: path, body: body})
	h := f.handlers[method+" "+path]
	f.mu.Unlock()
	if h == nil {
		return "", fmt.Errorf("no handler for %s %s", method, path)
	}
	return h(body)
}

func (f *fakeTransport) callsTo(method, path string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.method == method && c.path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) Get(_ context.Context, url string) (string, error) {
	return f.do("GET", url, "")
}

func (f *fakeTransport) Put(_ context.Context, url, body string) (string, error) {
	return f.do("PUT", url, body)
}

func (f *fakeTransport) Post(_ context.Context, url, body string) (string, error) {
	return f.do("POST", url, body)
}

func (f *fakeTransport) Delete(_ context.Context, url string) (string, error) {
	return f.do("DELETE", url, "")
}

func bridgePath(url string) string {
	idx := strings.Index(url, "/api/")
	if idx < 0 {
		return url
	}
	rest := url[idx+len("/api/"):]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return ""
	}
	return rest[slash+1:]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(e eventbus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) ofType(t eventbus.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []eventbus.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

const (
	testConfig = `{
		"name": "Hue Bridge",
		"apiversion": "1.16.0",
		"swversion": "1935144040",
		"swupdate": {"updatestate": 0, "checkforupdate": false, "notify": false},
		"portalstate": {"signedon": true, "incoming": false, "outgoing": true, "communication": "disconnected"},
		"whitelist": {"user": {"last use date": "2026-10-19T10:00:00", "create date": "2026-01-01T10:00:00", "name": "huesync#test"}}
	}`

	testLights = `{
		"1": {"uniqueid": "00:17:88:01:00:aa:aa:aa-0b", "type": "Extended color light", "name": "Kitchen",
			"state": {"on": true, "bri": 100, "hue": 1000, "sat": 100, "xy": [0.3, 0.3], "ct": 300, "alert": "none", "effect": "none", "colormode": "ct", "reachable": true}},
		"2": {"uniqueid": "00:17:88:01:00:bb:bb:bb-0b", "type": "Dimmable light", "name": "Attic",
			"state": {"on": false, "bri": 1, "alert": "none", "reachable": true}}
	}`

	testGroups = `{
		"1": {"name": "Downstairs", "type": "Room", "lights": ["1", "2"], "state": {"all_on": false, "any_on": true}}
	}`

	testScenes = `{
		"abc": {"name": "Relax", "lights": ["1"], "owner": "user", "recycle": false, "locked": false, "version": 2}
	}`
)

func newBridgeTransport() *fakeTransport {
	ft := newFakeTransport()
	ft.respond("GET", "config", testConfig)
	ft.respond("GET", "lights", testLights)
	ft.respond("GET", "groups", testGroups)
	ft.respond("GET", "scenes", testScenes)
	return ft
}

func testOptions() Options {
	opts := DefaultOptions("bridge.local", "user")
	opts.BridgeRefreshMinute = -1
	opts.Timings = Timings{
		UpdateCheckInterval: 10 * time.Millisecond,
		UpdateCheckTimeout:  time.Second,
		UpdateApplyInterval: 10 * time.Millisecond,
		UpdateApplyTimeout:  time.Second,
		SearchInterval:      10 * time.Millisecond,
		SearchTimeout:       time.Second,
	}
	return opts
}

func newTestSession(t *testing.T, ft *fakeTransport, pub *recordingPublisher) *Session {
	t.Helper()
	return newTestSessionWith(t, testOptions(), ft, pub)
}

func newTestSessionWith(t *testing.T, opts Options, ft *fakeTransport, pub *recordingPublisher) *Session {
	t.Helper()
	s := NewSession(opts, ft, pub, nil)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(s.Uninitialize)
	return s
}

// lightJSON renders one light resource for GET lights/<id> style handlers.
func lightJSON(name, mode string, on bool, bri int) string {
	return fmt.Sprintf(`{"uniqueid": "00:17:88:01:00:%02x:00:00-0b", "type": "Extended color light", "name": %q,
		"state": {"on": %t, "bri": %d, "hue": 1000, "sat": 100, "xy": [0.3, 0.3], "ct": 300, "alert": "none", "effect": "none", "colormode": %q, "reachable": true}}`,
		len(name), name, on, bri, mode)
}

func completionResults(pub *recordingPublisher, t eventbus.EventType) []string {
	var out []string
	for _, e := range pub.ofType(t) {
		if r, ok := e.Data["result"].(string); ok {
			out = append(out, r)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
