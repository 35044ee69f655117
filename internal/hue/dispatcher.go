package hue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
)

// LightChanges is a property-mutation request. Nil fields are not requested.
// When several color axes are set, only the highest-priority one is sent:
// xy, xy_inc, ct, ct_inc, hue/sat, color, hue_inc/sat_inc.
type LightChanges struct {
	On                        *bool       `json:"on,omitempty"`
	Brightness                *int        `json:"bri,omitempty"`
	BrightnessPercent         *float64    `json:"bri_pct,omitempty"`
	BrightnessIncrement       *int        `json:"bri_inc,omitempty"`
	XY                        *[2]float64 `json:"xy,omitempty"`
	XYIncrement               *[2]float64 `json:"xy_inc,omitempty"`
	ColorTemperature          *int        `json:"ct,omitempty"`
	ColorTemperatureIncrement *int        `json:"ct_inc,omitempty"`
	Hue                       *int        `json:"hue,omitempty"`
	Saturation                *int        `json:"sat,omitempty"`
	SaturationPercent         *float64    `json:"sat_pct,omitempty"`
	Color                     string      `json:"color,omitempty"`
	HueIncrement              *int        `json:"hue_inc,omitempty"`
	SaturationIncrement       *int        `json:"sat_inc,omitempty"`
	Alert                     *Alert      `json:"alert,omitempty"`
	Effect                    *Effect     `json:"effect,omitempty"`
	TransitionTime            *int        `json:"transitiontime,omitempty"`
}

func (c *LightChanges) setsBrightness() bool {
	return c.Brightness != nil || c.BrightnessPercent != nil || c.BrightnessIncrement != nil
}

func (c *LightChanges) setsColor() bool {
	return c.XY != nil || c.XYIncrement != nil ||
		c.ColorTemperature != nil || c.ColorTemperatureIncrement != nil ||
		c.Hue != nil || c.Saturation != nil || c.SaturationPercent != nil ||
		c.Color != "" || c.HueIncrement != nil || c.SaturationIncrement != nil
}

// impliesVisible reports whether the request only makes sense on a lit lamp.
func (c *LightChanges) impliesVisible() bool {
	return c.setsBrightness() || c.setsColor() || (c.Effect != nil && *c.Effect != EffectNone)
}

// commandField is one key of a write body.
type commandField struct {
	key   string
	value interface{}
}

// commandBody is a flat JSON object that keeps insertion order.
type commandBody []commandField

func (b *commandBody) set(key string, value interface{}) {
	for i := range *b {
		if (*b)[i].key == key {
			(*b)[i].value = value
			return
		}
	}
	*b = append(*b, commandField{key: key, value: value})
}

func (b commandBody) has(key string) bool {
	for _, f := range b {
		if f.key == key {
			return true
		}
	}
	return false
}

func (b commandBody) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// lightCommand is a built write plus the color mode it targets.
type lightCommand struct {
	body commandBody
	// mode is the color mode the write puts the light in, when modeSet.
	mode    ColorMode
	modeSet bool
	// modeChange is true when mode differs from the light's current mode.
	modeChange bool
}

// buildLightCommand applies the precedence policy against the light's local
// state. defaultTransition is the client-wide fallback.
func buildLightCommand(light *LightBulb, ch LightChanges, defaultTransition int, toXY ColorConverter) (lightCommand, error) {
	var cmd lightCommand
	st := &light.State
	caps := light.Capabilities()
	current := st.ColorMode()

	if ch.On != nil && *ch.On != st.On {
		cmd.body.set("on", *ch.On)
	}
	if !st.On && (ch.On == nil || *ch.On) && ch.impliesVisible() && !cmd.body.has("on") {
		cmd.body.set("on", true)
	}

	switch {
	case ch.Brightness != nil:
		if v := clamp(*ch.Brightness, MinBrightness, MaxBrightness); v != st.Brightness {
			cmd.body.set("bri", v)
		}
	case ch.BrightnessPercent != nil:
		if v := percentToBrightness(*ch.BrightnessPercent); v != st.Brightness {
			cmd.body.set("bri", v)
		}
	case ch.BrightnessIncrement != nil && *ch.BrightnessIncrement != 0:
		cmd.body.set("bri_inc", clamp(*ch.BrightnessIncrement, -MaxBrightness, MaxBrightness))
	}

	target := ColorModeNone
	switch {
	case ch.XY != nil:
		if requireCapability(light, caps, CapColor, "xy") {
			xy := clampXY(*ch.XY)
			if current != ColorModeXY || xy != st.XY {
				cmd.body.set("xy", xy[:])
			}
			target = ColorModeXY
		}
	case ch.XYIncrement != nil:
		if requireCapability(light, caps, CapColor, "xy_inc") {
			inc := *ch.XYIncrement
			cmd.body.set("xy_inc", inc[:])
			target = ColorModeXY
		}
	case ch.ColorTemperature != nil:
		if requireCapability(light, caps, CapColorTemperature, "ct") {
			v := clamp(*ch.ColorTemperature, MinColorTemperature, MaxColorTemperature)
			if current != ColorModeColorTemperature || v != st.ColorTemperature {
				cmd.body.set("ct", v)
			}
			target = ColorModeColorTemperature
		}
	case ch.ColorTemperatureIncrement != nil:
		if requireCapability(light, caps, CapColorTemperature, "ct_inc") {
			cmd.body.set("ct_inc", clamp(*ch.ColorTemperatureIncrement, -colorTemperatureSpan, colorTemperatureSpan))
			target = ColorModeColorTemperature
		}
	case ch.Hue != nil || ch.Saturation != nil || ch.SaturationPercent != nil:
		if requireCapability(light, caps, CapColor, "hue/sat") {
			hue, sat := st.Hue, st.Saturation
			if ch.Hue != nil {
				hue = clamp(*ch.Hue, MinHue, MaxHue)
			}
			satRequested := ch.Saturation != nil || ch.SaturationPercent != nil
			if ch.Saturation != nil {
				sat = clamp(*ch.Saturation, MinSaturation, MaxSaturation)
			} else if ch.SaturationPercent != nil {
				sat = percentToSaturation(*ch.SaturationPercent)
			}
			if current != ColorModeHueSaturation {
				// Only both values select the mode correctly
				cmd.body.set("hue", hue)
				cmd.body.set("sat", clamp(sat, MinSaturation, MaxSaturation))
			} else {
				if ch.Hue != nil && hue != st.Hue {
					cmd.body.set("hue", hue)
				}
				if satRequested && sat != st.Saturation {
					cmd.body.set("sat", sat)
				}
			}
			target = ColorModeHueSaturation
		}
	case ch.Color != "":
		r, g, b, ok := ParseColor(ch.Color)
		if !ok {
			return cmd, &ColorError{Color: ch.Color}
		}
		if requireCapability(light, caps, CapColor, "color") {
			xy := clampXY(toXY(r, g, b))
			cmd.body.set("xy", xy[:])
			target = ColorModeXY
		}
	case ch.HueIncrement != nil || ch.SaturationIncrement != nil:
		if requireCapability(light, caps, CapColor, "hue_inc/sat_inc") {
			hueInc, satInc := 0, 0
			if ch.HueIncrement != nil {
				hueInc = *ch.HueIncrement
			}
			if ch.SaturationIncrement != nil {
				satInc = *ch.SaturationIncrement
			}
			if current == ColorModeHueSaturation {
				if hueInc != 0 {
					cmd.body.set("hue_inc", clamp(hueInc, -MaxHue, MaxHue))
				}
				if satInc != 0 {
					cmd.body.set("sat_inc", clamp(satInc, -MaxSaturation, MaxSaturation))
				}
			} else {
				// Resolve locally so both values go out together
				cmd.body.set("hue", wrapHue(st.Hue+hueInc))
				cmd.body.set("sat", clamp(st.Saturation+satInc, MinSaturation, MaxSaturation))
			}
			target = ColorModeHueSaturation
		}
	}
	if target != ColorModeNone {
		cmd.mode = target
		cmd.modeSet = true
		cmd.modeChange = target != current
	}

	if ch.Alert != nil {
		cmd.body.set("alert", *ch.Alert)
	}
	if ch.Effect != nil && *ch.Effect != st.Effect {
		cmd.body.set("effect", *ch.Effect)
	}

	if len(cmd.body) > 0 {
		if tt := resolveTransitionTime(ch.TransitionTime, light.TransitionTime, defaultTransition); tt >= 0 {
			cmd.body.set("transitiontime", tt)
		}
	}
	return cmd, nil
}

const colorTemperatureSpan = MaxColorTemperature - MinColorTemperature

func requireCapability(light *LightBulb, caps, need Capabilities, axis string) bool {
	if caps.Has(need) {
		return true
	}
	log.Debug().Str("light", light.ID).Str("type", light.Type).Str("axis", axis).Msg("Light cannot do requested color axis, skipping")
	return false
}

// resolveTransitionTime picks the first non-negative of the per-call value,
// the light's own default and the client default. -1 omits the field.
func resolveTransitionTime(call *int, light, client int) int {
	if call != nil && *call >= 0 {
		return *call
	}
	if light >= 0 {
		return light
	}
	if client >= 0 {
		return client
	}
	return NoTransitionTime
}

// applyConfirmedState folds `/lights/<id>/state/<prop>` success keys into
// the light. Increment keys add the confirmed delta to the local value.
func applyConfirmedState(light *LightBulb, successes map[string]json.RawMessage) {
	prefix := "/lights/" + light.ID + "/state/"
	for key, raw := range successes {
		prop, ok := strings.CutPrefix(key, prefix)
		if !ok || prop == "transitiontime" {
			continue
		}
		if base, isInc := strings.CutSuffix(prop, "_inc"); isInc {
			if err := applyIncrement(&light.State, base, raw); err != nil {
				log.Warn().Err(err).Str("light", light.ID).Str("property", prop).Msg("Failed to apply confirmed increment")
			}
			continue
		}
		if known, err := light.applyState(prop, raw); err != nil {
			log.Warn().Err(err).Str("light", light.ID).Msg("Failed to apply confirmed value")
		} else if !known {
			log.Debug().Str("light", light.ID).Str("property", prop).Msg("Ignoring unknown confirmed property")
		}
	}
}

func applyIncrement(st *LightState, prop string, raw json.RawMessage) error {
	if prop == "xy" {
		var inc [2]float64
		if err := json.Unmarshal(raw, &inc); err != nil {
			return err
		}
		st.XY = clampXY([2]float64{st.XY[0] + inc[0], st.XY[1] + inc[1]})
		return nil
	}

	var inc int
	if err := json.Unmarshal(raw, &inc); err != nil {
		return err
	}
	switch prop {
	case "bri":
		st.Brightness = clamp(st.Brightness+inc, MinBrightness, MaxBrightness)
	case "hue":
		st.Hue = wrapHue(st.Hue + inc)
	case "sat":
		st.Saturation = clamp(st.Saturation+inc, MinSaturation, MaxSaturation)
	case "ct":
		st.ColorTemperature = clamp(st.ColorTemperature+inc, MinColorTemperature, MaxColorTemperature)
	default:
		return fmt.Errorf("unknown increment %s_inc", prop)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampXY(xy [2]float64) [2]float64 {
	for i := range xy {
		xy[i] = math.Max(0, math.Min(1, xy[i]))
	}
	return xy
}

func wrapHue(v int) int {
	v %= MaxHue + 1
	if v < 0 {
		v += MaxHue + 1
	}
	return v
}

func percentToBrightness(pct float64) int {
	return clamp(int(math.Round(pct/100*MaxBrightness)), MinBrightness, MaxBrightness)
}

func percentToSaturation(pct float64) int {
	return clamp(int(math.Round(pct/100*MaxSaturation)), MinSaturation, MaxSaturation)
}
