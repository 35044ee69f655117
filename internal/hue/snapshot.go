package hue

import "slices"

// LightSnapshot is a copy of a light taken under the session lock, safe to
// hand to other goroutines.
type LightSnapshot struct {
	Index        int          `json:"index"`
	ID           string       `json:"id"`
	UniqueID     string       `json:"unique_id"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	ModelID      string       `json:"model_id"`
	Capabilities Capabilities `json:"capabilities"`
	ColorMode    string       `json:"color_mode"`
	State        LightState   `json:"state"`
	Ramps        []string     `json:"ramps,omitempty"`
}

func snapshotLight(l *LightBulb) LightSnapshot {
	snap := LightSnapshot{
		Index:        l.Index,
		ID:           l.ID,
		UniqueID:     l.UniqueID,
		Name:         l.Name,
		Type:         l.Type,
		ModelID:      l.ModelID,
		Capabilities: l.Capabilities(),
		ColorMode:    l.State.ColorMode().String(),
		State:        l.State,
	}
	for _, k := range l.ActiveRamps() {
		snap.Ramps = append(snap.Ramps, k.String())
	}
	return snap
}

// LightSnapshots copies every light in collection order.
func (s *Session) LightSnapshots() []LightSnapshot {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	items := s.lights.Items()
	out := make([]LightSnapshot, 0, len(items))
	for _, l := range items {
		out = append(out, snapshotLight(l))
	}
	return out
}

// LightSnapshot copies the light with the given bridge ID.
func (s *Session) LightSnapshot(id string) (LightSnapshot, bool) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	l, ok := s.lights.Get(id)
	if !ok {
		return LightSnapshot{}, false
	}
	return snapshotLight(l), true
}

// GroupSnapshots copies every group.
func (s *Session) GroupSnapshots() []Group {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	items := s.groups.Items()
	out := make([]Group, 0, len(items))
	for _, g := range items {
		c := *g
		c.Lights = slices.Clone(g.Lights)
		out = append(out, c)
	}
	return out
}

// SceneSnapshots copies every scene.
func (s *Session) SceneSnapshots() []Scene {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	items := s.scenes.Items()
	out := make([]Scene, 0, len(items))
	for _, sc := range items {
		c := *sc
		c.Lights = slices.Clone(sc.Lights)
		out = append(out, c)
	}
	return out
}

// ConfigSnapshot copies the bridge configuration.
func (s *Session) ConfigSnapshot() BridgeConfiguration {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	c := *s.config
	c.SoftwareUpdate.DeviceTypes.Lights = slices.Clone(c.SoftwareUpdate.DeviceTypes.Lights)
	c.SoftwareUpdate.DeviceTypes.Sensors = slices.Clone(c.SoftwareUpdate.DeviceTypes.Sensors)
	if s.config.Whitelist != nil {
		c.Whitelist = make(map[string]*WhitelistEntry, len(s.config.Whitelist))
		for k, v := range s.config.Whitelist {
			entry := *v
			c.Whitelist[k] = &entry
		}
	}
	return c
}
