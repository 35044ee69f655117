package hue

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
)

// Value ranges accepted by the bridge.
const (
	MinBrightness       = 1
	MaxBrightness       = 254
	MinHue              = 0
	MaxHue              = 65535
	MinSaturation       = 1
	MaxSaturation       = 254
	MinColorTemperature = 153
	MaxColorTemperature = 500

	ColorTemperatureWarm     = 300
	ColorTemperatureDaylight = 153

	// NoTransitionTime leaves the transition to the next fallback.
	NoTransitionTime = -1
)

// Alert is the light's alert effect.
type Alert string

const (
	AlertNone   Alert = "none"
	AlertSelect Alert = "select"
	AlertLong   Alert = "lselect"
)

// Effect is the light's dynamic effect.
type Effect string

const (
	EffectNone      Effect = "none"
	EffectColorLoop Effect = "colorloop"
)

// ColorMode is the bridge's active interpretation of light color.
type ColorMode int

const (
	ColorModeNotSupported ColorMode = iota
	ColorModeNone
	ColorModeHueSaturation
	ColorModeColorTemperature
	ColorModeXY
)

func (m ColorMode) String() string {
	switch m {
	case ColorModeNotSupported:
		return "not_supported"
	case ColorModeNone:
		return "none"
	case ColorModeHueSaturation:
		return "hs"
	case ColorModeColorTemperature:
		return "ct"
	case ColorModeXY:
		return "xy"
	default:
		return "unknown"
	}
}

// Key returns the wire key of the mode, or "" when there is none.
func (m ColorMode) Key() string {
	switch m {
	case ColorModeHueSaturation, ColorModeColorTemperature, ColorModeXY:
		return m.String()
	default:
		return ""
	}
}

// ColorModeFromKey maps the wire colormode. An absent key means the light has
// no color support; a key we do not recognize maps to ColorModeNone.
func ColorModeFromKey(key string) ColorMode {
	switch key {
	case "":
		return ColorModeNotSupported
	case "hs":
		return ColorModeHueSaturation
	case "ct":
		return ColorModeColorTemperature
	case "xy":
		return ColorModeXY
	default:
		return ColorModeNone
	}
}

// Capabilities describes what a light can do, derived from its type.
type Capabilities uint8

const (
	CapOnOff Capabilities = 1 << iota
	CapDimmable
	CapColorTemperature
	CapColor
)

// Has reports whether every bit of c2 is set.
func (c Capabilities) Has(c2 Capabilities) bool {
	return c&c2 == c2
}

// CapabilitiesForType maps the bridge light type string.
func CapabilitiesForType(lightType string) Capabilities {
	switch strings.ToLower(lightType) {
	case "dimmable light":
		return CapOnOff | CapDimmable
	case "color temperature light":
		return CapOnOff | CapDimmable | CapColorTemperature
	case "color light":
		return CapOnOff | CapDimmable | CapColor
	case "extended color light":
		return CapOnOff | CapDimmable | CapColorTemperature | CapColor
	default:
		return CapOnOff
	}
}

// LightState is the state sub-entity of a light.
type LightState struct {
	On               bool       `json:"on"`
	Brightness       int        `json:"bri"`
	Hue              int        `json:"hue"`
	Saturation       int        `json:"sat"`
	XY               [2]float64 `json:"xy"`
	ColorTemperature int        `json:"ct"`
	Alert            Alert      `json:"alert"`
	Effect           Effect     `json:"effect"`
	ColorModeKey     string     `json:"colormode"`
	Reachable        bool       `json:"reachable"`
}

// ColorMode is derived from ColorModeKey so the two cannot disagree.
func (s *LightState) ColorMode() ColorMode {
	return ColorModeFromKey(s.ColorModeKey)
}

// SetColorMode updates ColorModeKey. Modes without a key leave it alone.
func (s *LightState) SetColorMode(m ColorMode) {
	if key := m.Key(); key != "" {
		s.ColorModeKey = key
	}
}

// LightBulb is a bridge light. Instances are created by the light collection
// and mutated in place on every refresh, so callers may keep references.
type LightBulb struct {
	Identity
	UniqueID          string     `json:"uniqueid"`
	Type              string     `json:"type"`
	Name              string     `json:"name"`
	ModelID           string     `json:"modelid"`
	SoftwareVersion   string     `json:"swversion"`
	Manufacturer      string     `json:"manufacturername"`
	LuminaireUniqueID string     `json:"luminaireuniqueid"`
	State             LightState `json:"state"`

	// TransitionTime is the light's own default in deciseconds, or
	// NoTransitionTime.
	TransitionTime int `json:"-"`

	// writing is set while a state write for this light is in flight.
	writing atomic.Bool
	// saved is the state to restore after a temporary change. Guarded by
	// the session refresh lock.
	saved *LightChanges

	// mu guards ramps. It nests inside the session refresh lock.
	mu    sync.Mutex
	ramps [rampKindCount]rampState
}

func newLightBulb() *LightBulb {
	return &LightBulb{TransitionTime: NoTransitionTime}
}

// Capabilities returns the capability flags for the light type.
func (l *LightBulb) Capabilities() Capabilities {
	return CapabilitiesForType(l.Type)
}

var lightStateFields = newFieldTable(
	valueField[LightState]("on", func(s *LightState) *bool { return &s.On }),
	valueField[LightState]("bri", func(s *LightState) *int { return &s.Brightness }),
	valueField[LightState]("hue", func(s *LightState) *int { return &s.Hue }),
	valueField[LightState]("sat", func(s *LightState) *int { return &s.Saturation }),
	valueField[LightState]("xy", func(s *LightState) *[2]float64 { return &s.XY }),
	valueField[LightState]("ct", func(s *LightState) *int { return &s.ColorTemperature }),
	valueField[LightState]("alert", func(s *LightState) *Alert { return &s.Alert }),
	valueField[LightState]("effect", func(s *LightState) *Effect { return &s.Effect }),
	valueField[LightState]("colormode", func(s *LightState) *string { return &s.ColorModeKey }),
	valueField[LightState]("reachable", func(s *LightState) *bool { return &s.Reachable }),
)

var lightFields = newFieldTable(
	uniqueIDField(),
	valueField[LightBulb]("type", func(l *LightBulb) *string { return &l.Type }),
	valueField[LightBulb]("name", func(l *LightBulb) *string { return &l.Name }),
	valueField[LightBulb]("modelid", func(l *LightBulb) *string { return &l.ModelID }),
	valueField[LightBulb]("swversion", func(l *LightBulb) *string { return &l.SoftwareVersion }),
	valueField[LightBulb]("manufacturername", func(l *LightBulb) *string { return &l.Manufacturer }),
	valueField[LightBulb]("luminaireuniqueid", func(l *LightBulb) *string { return &l.LuminaireUniqueID }),
	nestedField[LightBulb]("state", func(l *LightBulb) *LightState { return &l.State }, lightStateFields),
)

// uniqueIDField only assigns the hardware id while it is still empty.
func uniqueIDField() fieldDef[LightBulb] {
	f := valueField[LightBulb]("uniqueid", func(l *LightBulb) *string { return &l.UniqueID })
	merge := f.merge
	f.merge = func(dst, src *LightBulb) bool {
		if dst.UniqueID != "" {
			return false
		}
		return merge(dst, src)
	}
	f.apply = func(*LightBulb, json.RawMessage) error { return nil }
	return f
}

// UpdateFrom merges a freshly fetched snapshot into l.
func (l *LightBulb) UpdateFrom(src *LightBulb) bool {
	return lightFields.merge(l, src)
}

// applyState writes one bridge-confirmed state property.
func (l *LightBulb) applyState(name string, raw json.RawMessage) (bool, error) {
	return lightStateFields.apply(&l.State, name, raw)
}
