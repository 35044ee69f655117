// Package huetest provides an in-memory bridge for tests of packages built
// on top of hue.Session.
package huetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/dokzlo13/huesync/internal/hue"
)

// Address and Username of the fake bridge.
const (
	Address  = "bridge.local"
	Username = "user"
)

const (
	configJSON = `{
		"name": "Hue Bridge", "apiversion": "1.16.0", "swversion": "1935144040", "bridgeid": "001788FFFEAABBCC",
		"swupdate": {"updatestate": 0, "checkforupdate": false, "notify": false},
		"portalstate": {"signedon": true, "incoming": false, "outgoing": true, "communication": "disconnected"},
		"whitelist": {"user": {"last use date": "2026-10-19T10:00:00", "create date": "2026-01-01T10:00:00", "name": "huesync#test"}}
	}`

	lightsJSON = `{
		"1": {"uniqueid": "00:17:88:01:00:aa:aa:aa-0b", "type": "Extended color light", "name": "Kitchen", "modelid": "LCT015",
			"state": {"on": true, "bri": 100, "hue": 1000, "sat": 100, "xy": [0.3, 0.3], "ct": 300, "alert": "none", "effect": "none", "colormode": "ct", "reachable": true}},
		"2": {"uniqueid": "00:17:88:01:00:bb:bb:bb-0b", "type": "Dimmable light", "name": "Attic", "modelid": "LWB010",
			"state": {"on": false, "bri": 1, "alert": "none", "reachable": true}}
	}`

	groupsJSON = `{"1": {"name": "Downstairs", "type": "Room", "lights": ["1", "2"], "state": {"all_on": false, "any_on": true}}}`

	scenesJSON = `{"abc": {"name": "Relax", "lights": ["1"], "owner": "user", "recycle": false, "locked": false, "version": 2}}`
)

// Call is one recorded request. Path is relative to /api/<username>/.
type Call struct {
	Method string
	Path   string
	Body   string
}

// Bridge is a hue.Transport serving canned resources. PUT requests with an
// object body are confirmed key by key unless a response was registered.
type Bridge struct {
	mu        sync.Mutex
	responses map[string]string
	calls     []Call
}

// NewBridge returns a bridge with two lights (1 "Kitchen" color, 2 "Attic"
// dimmable, off), group 1 and scene "abc".
func NewBridge() *Bridge {
	b := &Bridge{responses: make(map[string]string)}
	b.Respond("GET", "config", configJSON)
	b.Respond("GET", "lights", lightsJSON)
	b.Respond("GET", "groups", groupsJSON)
	b.Respond("GET", "scenes", scenesJSON)
	return b
}

// Respond registers the body returned for method and path.
func (b *Bridge) Respond(method, path, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[method+" "+path] = body
}

// Calls returns the recorded requests for method and path.
func (b *Bridge) Calls(method, path string) []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Call
	for _, c := range b.calls {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func relativePath(url string) string {
	i := strings.Index(url, "/api/")
	if i < 0 {
		return url
	}
	rest := url[i+len("/api/"):]
	if j := strings.Index(rest, "/"); j >= 0 {
		return rest[j+1:]
	}
	return ""
}

func (b *Bridge) do(method, url, body string) (string, error) {
	path := relativePath(url)

	b.mu.Lock()
	b.calls = append(b.calls, Call{Method: method, Path: path, Body: body})
	resp, ok := b.responses[method+" "+path]
	b.mu.Unlock()

	if ok {
		return resp, nil
	}
	switch method {
	case "PUT":
		return confirm(path, body)
	case "DELETE":
		return fmt.Sprintf(`[{"success": "/%s deleted"}]`, path), nil
	}
	return "", fmt.Errorf("huetest: no response for %s %s", method, path)
}

// confirm builds the success array a bridge returns for an accepted write.
func confirm(path, body string) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return "", fmt.Errorf("huetest: PUT %s body: %w", path, err)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]string, 0, len(keys))
	for _, k := range keys {
		results = append(results, fmt.Sprintf(`{"success": {"/%s/%s": %s}}`, path, k, fields[k]))
	}
	return "[" + strings.Join(results, ",") + "]", nil
}

func (b *Bridge) Get(_ context.Context, url string) (string, error) {
	return b.do("GET", url, "")
}

func (b *Bridge) Put(_ context.Context, url, body string) (string, error) {
	return b.do("PUT", url, body)
}

func (b *Bridge) Post(_ context.Context, url, body string) (string, error) {
	return b.do("POST", url, body)
}

func (b *Bridge) Delete(_ context.Context, url string) (string, error) {
	return b.do("DELETE", url, "")
}

// NewSession initializes a session against a fresh Bridge and tears it down
// when the test ends.
func NewSession(t testing.TB, publisher hue.Publisher) (*hue.Session, *Bridge) {
	t.Helper()
	b := NewBridge()
	opts := hue.DefaultOptions(Address, Username)
	opts.BridgeRefreshMinute = -1

	s := hue.NewSession(opts, b, publisher, nil)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(s.Uninitialize)
	return s, b
}
