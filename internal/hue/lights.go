package hue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// SetLightProperties writes changes to the light with the given ID. Only the
// values the bridge confirms are applied locally. A write issued while
// another one for the same light is in flight is dropped and reports
// success.
func (s *Session) SetLightProperties(ctx context.Context, lightID string, ch LightChanges) error {
	light, err := s.lookupLight(lightID)
	if err != nil {
		return err
	}
	return s.setLightProperties(ctx, light, ch, false)
}

func (s *Session) lookupLight(lightID string) (*LightBulb, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	s.refreshMu.Lock()
	light, ok := s.lights.Get(lightID)
	s.refreshMu.Unlock()
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownLight, lightID)
		s.emitError(err)
		return nil, err
	}
	return light, nil
}

// setLightProperties holds no lock during the bridge round trip. fromRamp
// writes leave running ramps alone.
func (s *Session) setLightProperties(ctx context.Context, light *LightBulb, ch LightChanges, fromRamp bool) error {
	if !light.writing.CompareAndSwap(false, true) {
		log.Debug().Str("light", light.ID).Msg("Write already in progress, dropping")
		return nil
	}
	defer light.writing.Store(false)

	if !fromRamp {
		stopRamps(light, rampsStoppedBy(&ch)...)
	}

	s.refreshMu.Lock()
	if current, ok := s.lights.Get(light.ID); !ok || current != light {
		s.refreshMu.Unlock()
		err := fmt.Errorf("%w: %s", ErrUnknownLight, light.ID)
		s.emitError(err)
		return err
	}
	cmd, err := buildLightCommand(light, ch, s.opts.DefaultTransitionTime, s.opts.ColorConverter)
	id := light.ID
	s.refreshMu.Unlock()

	if err != nil {
		s.emitError(err)
		return err
	}
	if len(cmd.body) == 0 {
		return nil
	}

	results, err := s.put(ctx, "lights/"+id+"/state", cmd.body)
	if err == nil {
		err = results.FirstError()
	}

	changed := false
	s.refreshMu.Lock()
	if current, ok := s.lights.Get(id); ok && current == light {
		if successes := results.Successes(); len(successes) > 0 {
			applyConfirmedState(light, successes)
			changed = true
		}
		switch {
		case err == nil && cmd.modeSet:
			light.State.SetColorMode(cmd.mode)
		case err != nil && cmd.modeChange:
			// The resulting color mode is unknown, re-read the light
			if _, _, rerr := s.refreshLightLocked(ctx, id); rerr != nil {
				log.Warn().Err(rerr).Str("light", id).Msg("Failed to refresh light after failed write")
			} else {
				changed = true
			}
		}
	}
	s.refreshMu.Unlock()

	if changed {
		s.emitLightChanged(light)
	}
	if err != nil {
		s.emitError(err)
		return err
	}
	return nil
}

// rampsStoppedBy returns the ramps a direct write overrides.
func rampsStoppedBy(ch *LightChanges) []RampKind {
	if (ch.On != nil && !*ch.On) || ch.Alert != nil || ch.Effect != nil {
		return []RampKind{RampRaise, RampLower, RampCycleDim, RampCycleHue, RampCycleSat, RampCycleCT}
	}
	var kinds []RampKind
	if ch.setsBrightness() {
		kinds = append(kinds, RampRaise, RampLower, RampCycleDim)
	}
	if ch.XY != nil || ch.XYIncrement != nil || ch.Color != "" {
		return append(kinds, RampCycleHue, RampCycleSat, RampCycleCT)
	}
	if ch.Hue != nil || ch.HueIncrement != nil {
		kinds = append(kinds, RampCycleHue)
	}
	if ch.Saturation != nil || ch.SaturationPercent != nil || ch.SaturationIncrement != nil {
		kinds = append(kinds, RampCycleSat)
	}
	if ch.ColorTemperature != nil || ch.ColorTemperatureIncrement != nil {
		kinds = append(kinds, RampCycleCT)
	}
	return kinds
}

// Toggle flips the light's on state.
func (s *Session) Toggle(ctx context.Context, lightID string) error {
	light, err := s.lookupLight(lightID)
	if err != nil {
		return err
	}
	s.refreshMu.Lock()
	on := !light.State.On
	s.refreshMu.Unlock()
	return s.setLightProperties(ctx, light, LightChanges{On: &on}, false)
}

// InstantOn jumps to full brightness without a transition.
func (s *Session) InstantOn(ctx context.Context, lightID string) error {
	bri, tt := MaxBrightness, 0
	return s.SetLightProperties(ctx, lightID, LightChanges{Brightness: &bri, TransitionTime: &tt})
}

// InstantOff switches off without a transition and re-reads the light, since
// the bridge changes brightness on its own in that case.
func (s *Session) InstantOff(ctx context.Context, lightID string) error {
	light, err := s.lookupLight(lightID)
	if err != nil {
		return err
	}
	off, tt := false, 0
	if err := s.setLightProperties(ctx, light, LightChanges{On: &off, TransitionTime: &tt}, false); err != nil {
		return err
	}
	return s.RefreshLight(ctx, lightID)
}

// minBrightnessStep is one percent of the brightness range.
const minBrightnessStep = MaxBrightness / 100

// RaiseBrightness adds n to the brightness through the bridge increment.
func (s *Session) RaiseBrightness(ctx context.Context, lightID string, n int) error {
	inc := max(minBrightnessStep, min(n, MaxBrightness))
	return s.SetLightProperties(ctx, lightID, LightChanges{BrightnessIncrement: &inc})
}

// LowerBrightness subtracts n from the brightness.
func (s *Session) LowerBrightness(ctx context.Context, lightID string, n int) error {
	inc := -max(minBrightnessStep, min(n, MaxBrightness))
	return s.SetLightProperties(ctx, lightID, LightChanges{BrightnessIncrement: &inc})
}

func (s *Session) RaiseBrightnessPercent(ctx context.Context, lightID string, pct float64) error {
	return s.RaiseBrightness(ctx, lightID, percentToStep(pct))
}

func (s *Session) LowerBrightnessPercent(ctx context.Context, lightID string, pct float64) error {
	return s.LowerBrightness(ctx, lightID, percentToStep(pct))
}

func percentToStep(pct float64) int {
	return int(max(1, pct) / 100 * MaxBrightness)
}

// BeginTemporaryChange remembers on, brightness and the active color of the
// light. Nested calls keep the first snapshot.
func (s *Session) BeginTemporaryChange(lightID string) error {
	light, err := s.lookupLight(lightID)
	if err != nil {
		return err
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if light.saved != nil {
		return nil
	}

	st := light.State
	saved := &LightChanges{On: &st.On, Brightness: &st.Brightness}
	switch st.ColorMode() {
	case ColorModeHueSaturation:
		saved.Hue, saved.Saturation = &st.Hue, &st.Saturation
	case ColorModeColorTemperature:
		saved.ColorTemperature = &st.ColorTemperature
	case ColorModeXY:
		saved.XY = &st.XY
	}
	light.saved = saved
	return nil
}

// EndTemporaryChange restores the snapshot taken by BeginTemporaryChange.
func (s *Session) EndTemporaryChange(ctx context.Context, lightID string) error {
	light, err := s.lookupLight(lightID)
	if err != nil {
		return err
	}
	s.refreshMu.Lock()
	saved := light.saved
	light.saved = nil
	s.refreshMu.Unlock()
	if saved == nil {
		return nil
	}
	return s.setLightProperties(ctx, light, *saved, false)
}

// RefreshLight re-reads one light and reports it when it changed.
func (s *Session) RefreshLight(ctx context.Context, lightID string) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	s.refreshMu.Lock()
	light, changed, err := s.refreshLightLocked(ctx, lightID)
	s.refreshMu.Unlock()
	if err != nil {
		s.emitError(err)
		return err
	}
	if changed {
		s.emitLightChanged(light)
	}
	return nil
}

// DeleteLight removes a light from the bridge. key is an ID, or a unique ID
// when byUniqueID is set.
func (s *Session) DeleteLight(ctx context.Context, key string, byUniqueID bool) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	s.refreshMu.Lock()
	var (
		light *LightBulb
		ok    bool
	)
	if byUniqueID {
		light, ok = s.lights.GetByUniqueKey(key)
	} else {
		light, ok = s.lights.Get(key)
	}
	s.refreshMu.Unlock()
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownLight, key)
		s.emitError(err)
		return err
	}

	results, err := s.delete(ctx, "lights/"+light.ID)
	if err == nil {
		err = results.FirstError()
	}
	if err != nil {
		s.emitError(err)
		return err
	}

	s.refreshMu.Lock()
	stopAllRamps(light)
	_, moved, _ := s.lights.Remove(light.ID)
	s.refreshMu.Unlock()

	for _, l := range moved {
		s.emitLightChanged(l)
	}
	log.Info().Str("light", light.ID).Str("name", light.Name).Msg("Light deleted")
	return nil
}

// RenameLight sets a light's name.
func (s *Session) RenameLight(ctx context.Context, lightID, name string) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	light, ok := s.lights.Get(lightID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownLight, lightID)
		s.emitError(err)
		return err
	}
	return renameObject(ctx, s, "lights", light, lightFields, light.ID, name, func() {
		s.lights.Resort()
		for _, l := range s.lights.Items() {
			s.emitLightChanged(l)
		}
	})
}

// RenameGroup sets a group's name.
func (s *Session) RenameGroup(ctx context.Context, groupID, name string) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	group, ok := s.groups.Get(groupID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
		s.emitError(err)
		return err
	}
	return renameObject(ctx, s, "groups", group, groupFields, group.ID, name, func() {
		s.emitGroupChanged(group)
	})
}

// RenameScene sets a scene's name.
func (s *Session) RenameScene(ctx context.Context, sceneID, name string) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	scene, ok := s.scenes.Get(sceneID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownScene, sceneID)
		s.emitError(err)
		return err
	}
	return renameObject(ctx, s, "scenes", scene, sceneFields, scene.ID, name, func() {
		s.emitSceneChanged(scene)
	})
}

// renameObject PUTs to <api>/<id> and applies the confirmed
// `/<api>/<id>/<prop>` keys. Runs with the refresh lock held.
func renameObject[T any](ctx context.Context, s *Session, api string, dst *T, table *fieldTable[T], id, name string, changed func()) error {
	results, err := s.put(ctx, api+"/"+id, map[string]string{"name": name})
	if err == nil {
		err = results.FirstError()
	}
	if applyConfirmedObject(table, dst, "/"+api+"/"+id+"/", results.Successes()) {
		changed()
	}
	if err != nil {
		s.emitError(err)
		return err
	}
	return nil
}

func applyConfirmedObject[T any](table *fieldTable[T], dst *T, prefix string, successes map[string]json.RawMessage) bool {
	applied := false
	for key, raw := range successes {
		prop, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		known, err := table.apply(dst, prop, raw)
		if err != nil {
			log.Warn().Err(err).Str("property", key).Msg("Failed to apply confirmed value")
			continue
		}
		applied = applied || known
	}
	return applied
}
