package hue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RampKind is one hold-to-change controller of a light.
type RampKind int

const (
	RampRaise RampKind = iota
	RampLower
	RampCycleDim
	RampCycleHue
	RampCycleSat
	RampCycleCT

	rampKindCount
)

var rampKindNames = [rampKindCount]string{"raise", "lower", "cycle_dim", "cycle_hue", "cycle_sat", "cycle_ct"}

func (k RampKind) String() string {
	if k < 0 || k >= rampKindCount {
		return "unknown"
	}
	return rampKindNames[k]
}

// ParseRampKind accepts the names produced by String.
func ParseRampKind(s string) (RampKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range rampKindNames {
		if name == s {
			return RampKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown ramp kind %q", s)
}

// cycles flip direction at a boundary instead of stopping.
func (k RampKind) cycles() bool {
	return k == RampCycleDim || k == RampCycleHue || k == RampCycleSat || k == RampCycleCT
}

// RampDurations is the time a full sweep takes, per kind.
type RampDurations [rampKindCount]time.Duration

func DefaultRampDurations() RampDurations {
	return RampDurations{
		RampRaise:    2 * time.Second,
		RampLower:    2 * time.Second,
		RampCycleDim: 2 * time.Second,
		RampCycleHue: 10 * time.Second,
		RampCycleSat: 2 * time.Second,
		RampCycleCT:  2 * time.Second,
	}
}

func (d RampDurations) withDefaults() RampDurations {
	defaults := DefaultRampDurations()
	for k := range d {
		if d[k] <= 0 {
			d[k] = defaults[k]
		}
	}
	return d
}

// rampState is guarded by the light's mu. direction survives Stop so a
// restarted cycle continues its sweep.
type rampState struct {
	task       *periodicTask
	inProgress bool
	direction  int
}

// rampConflicts lists the ramps that compete for the same property.
var rampConflicts = [rampKindCount][]RampKind{
	RampRaise:    {RampLower, RampCycleDim},
	RampLower:    {RampRaise, RampCycleDim},
	RampCycleDim: {RampRaise, RampLower},
	RampCycleHue: {RampCycleCT},
	RampCycleSat: {RampCycleCT},
	RampCycleCT:  {RampCycleHue, RampCycleSat},
}

// rampAxis is the light property a ramp moves.
type rampAxis struct {
	min, max int
	need     Capabilities
	get      func(*LightState) int
	changes  func(v int) LightChanges
}

var (
	brightnessAxis = rampAxis{
		min: MinBrightness, max: MaxBrightness, need: CapDimmable,
		get:     func(s *LightState) int { return s.Brightness },
		changes: func(v int) LightChanges { return LightChanges{Brightness: &v} },
	}
	hueAxis = rampAxis{
		min: MinHue, max: MaxHue, need: CapColor,
		get:     func(s *LightState) int { return s.Hue },
		changes: func(v int) LightChanges { return LightChanges{Hue: &v} },
	}
	saturationAxis = rampAxis{
		min: MinSaturation, max: MaxSaturation, need: CapColor,
		get:     func(s *LightState) int { return s.Saturation },
		changes: func(v int) LightChanges { return LightChanges{Saturation: &v} },
	}
	colorTemperatureAxis = rampAxis{
		min: MinColorTemperature, max: MaxColorTemperature, need: CapColorTemperature,
		get:     func(s *LightState) int { return s.ColorTemperature },
		changes: func(v int) LightChanges { return LightChanges{ColorTemperature: &v} },
	}
)

var rampAxes = [rampKindCount]*rampAxis{
	RampRaise:    &brightnessAxis,
	RampLower:    &brightnessAxis,
	RampCycleDim: &brightnessAxis,
	RampCycleHue: &hueAxis,
	RampCycleSat: &saturationAxis,
	RampCycleCT:  &colorTemperatureAxis,
}

const (
	// minRampInterval caps a ramp at ten commands per second per light.
	minRampInterval = 100 * time.Millisecond
	rampWriteWait   = 5 * time.Second
)

// rampTiming returns the tick interval and the value step for a sweep of
// span units taking duration.
func rampTiming(duration time.Duration, span int) (time.Duration, int) {
	if span < 1 {
		span = 1
	}
	interval := duration / time.Duration(span)
	if interval < minRampInterval {
		interval = minRampInterval
	}
	ticks := int(duration / interval)
	if ticks < 1 {
		ticks = 1
	}
	step := span / ticks
	if step < 1 {
		step = 1
	}
	return interval, step
}

// initialDirection picks where a ramp starts moving.
func initialDirection(kind RampKind, on bool, value int, axis *rampAxis, persisted int) int {
	switch {
	case kind == RampRaise:
		return 1
	case kind == RampLower:
		return -1
	case !on || value <= axis.min:
		return 1
	case value >= axis.max:
		return -1
	case persisted == 0:
		return 1
	default:
		return persisted
	}
}

// StartRamp starts a ramp on a light, stopping the ramps it competes with.
// Starting a ramp that is already running is a no-op.
func (s *Session) StartRamp(ctx context.Context, lightID string, kind RampKind) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	if kind < 0 || kind >= rampKindCount {
		err := fmt.Errorf("%w: ramp kind %d", ErrUnsupported, kind)
		s.emitError(err)
		return err
	}

	s.refreshMu.Lock()
	light, ok := s.lights.Get(lightID)
	if !ok {
		s.refreshMu.Unlock()
		err := fmt.Errorf("%w: %s", ErrUnknownLight, lightID)
		s.emitError(err)
		return err
	}
	axis := rampAxes[kind]
	if !light.Capabilities().Has(axis.need) {
		s.refreshMu.Unlock()
		err := fmt.Errorf("%w: %s on %s", ErrUnsupported, kind, light.Type)
		s.emitError(err)
		return err
	}

	light.mu.Lock()
	for _, c := range rampConflicts[kind] {
		stopRampLocked(light, c)
	}
	st := &light.ramps[kind]
	if st.inProgress || (kind == RampLower && !light.State.On) {
		light.mu.Unlock()
		s.refreshMu.Unlock()
		return nil
	}
	st.direction = initialDirection(kind, light.State.On, axis.get(&light.State), axis, st.direction)
	st.inProgress = true
	wasOff := !light.State.On
	light.mu.Unlock()
	s.refreshMu.Unlock()

	if kind == RampRaise && wasOff {
		bri, on, tt := MinBrightness, true, 0
		if err := s.setLightProperties(ctx, light, LightChanges{On: &on, Brightness: &bri, TransitionTime: &tt}, true); err != nil {
			_ = s.StopRamp(lightID, kind)
			return err
		}
	}

	interval, step := rampTiming(s.opts.RampDurations[kind], axis.max-axis.min)
	rampCtx := s.backgroundContext()

	light.mu.Lock()
	defer light.mu.Unlock()
	if !st.inProgress || st.task != nil {
		// Stopped while priming
		return nil
	}
	st.task = startPeriodic("ramp:"+kind.String(), interval, func(task *periodicTask) {
		s.rampTick(rampCtx, light, kind, task, step, interval)
	})
	log.Debug().
		Str("light", light.ID).
		Str("ramp", kind.String()).
		Dur("interval", interval).
		Int("step", step).
		Int("direction", st.direction).
		Msg("Ramp started")
	return nil
}

// StopRamp stops one ramp of a light. Stopping an idle ramp is a no-op.
func (s *Session) StopRamp(lightID string, kind RampKind) error {
	if kind < 0 || kind >= rampKindCount {
		return fmt.Errorf("%w: ramp kind %d", ErrUnsupported, kind)
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	light, ok := s.lights.Get(lightID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLight, lightID)
	}
	light.mu.Lock()
	stopRampLocked(light, kind)
	light.mu.Unlock()
	return nil
}

// IsRamping reports whether the ramp is running on the light.
func (s *Session) IsRamping(lightID string, kind RampKind) bool {
	if kind < 0 || kind >= rampKindCount {
		return false
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	light, ok := s.lights.Get(lightID)
	if !ok {
		return false
	}
	light.mu.Lock()
	defer light.mu.Unlock()
	return light.ramps[kind].inProgress
}

// ActiveRamps lists the running ramps of a light.
func (l *LightBulb) ActiveRamps() []RampKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var kinds []RampKind
	for k := range l.ramps {
		if l.ramps[k].inProgress {
			kinds = append(kinds, RampKind(k))
		}
	}
	return kinds
}

func stopRampLocked(l *LightBulb, kind RampKind) {
	st := &l.ramps[kind]
	if st.task != nil {
		st.task.Stop()
		st.task = nil
	}
	st.inProgress = false
}

func stopRamps(l *LightBulb, kinds ...RampKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range kinds {
		stopRampLocked(l, k)
	}
}

func stopAllRamps(l *LightBulb) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.ramps {
		stopRampLocked(l, RampKind(k))
	}
}

// rampTick moves the value one step. One-shot ramps stop at their boundary,
// Lower switching the light off there. Cycles reverse.
func (s *Session) rampTick(ctx context.Context, light *LightBulb, kind RampKind, task *periodicTask, step int, interval time.Duration) {
	if ctx.Err() != nil {
		task.Stop()
		return
	}

	s.refreshMu.Lock()
	current, live := s.lights.Get(light.ID)
	light.mu.Lock()
	st := &light.ramps[kind]
	if !st.inProgress || st.task != task {
		light.mu.Unlock()
		s.refreshMu.Unlock()
		task.Stop()
		return
	}
	if !live || current != light {
		stopRampLocked(light, kind)
		light.mu.Unlock()
		s.refreshMu.Unlock()
		return
	}

	axis := rampAxes[kind]
	value := axis.get(&light.State)
	next, atEdge := advance(value, st.direction, step, axis)

	var ch LightChanges
	switch {
	case atEdge && kind.cycles():
		st.direction = -st.direction
		next, _ = advance(value, st.direction, step, axis)
		ch = axis.changes(next)
	case atEdge:
		stopRampLocked(light, kind)
		if kind == RampLower && light.State.On {
			// Off stops every axis, otherwise a cycle would turn it back on.
			for k := range light.ramps {
				stopRampLocked(light, RampKind(k))
			}
			off := false
			ch.On = &off
		}
	default:
		ch = axis.changes(next)
	}
	light.mu.Unlock()
	s.refreshMu.Unlock()

	if ch == (LightChanges{}) {
		return
	}
	if ch.On != nil && !awaitWriteSlot(ctx, light) {
		return
	}
	tt := int(interval / (100 * time.Millisecond))
	ch.TransitionTime = &tt
	if err := s.setLightProperties(ctx, light, ch, true); err != nil {
		log.Debug().Err(err).Str("light", light.ID).Str("ramp", kind.String()).Msg("Ramp step failed")
	}
}

// awaitWriteSlot waits out a write a stopped ramp may still have in flight,
// so the final off is not dropped as overlapping.
func awaitWriteSlot(ctx context.Context, light *LightBulb) bool {
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()
	deadline := time.NewTimer(rampWriteWait)
	defer deadline.Stop()
	for light.writing.Load() {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return true
		case <-poll.C:
		}
	}
	return true
}

// advance steps value in direction, clamped to the axis. atEdge means the
// value already sits on the boundary it is moving toward.
func advance(value, direction, step int, axis *rampAxis) (int, bool) {
	if direction >= 0 {
		if value >= axis.max {
			return axis.max, true
		}
		return min(value+step, axis.max), false
	}
	if value <= axis.min {
		return axis.min, true
	}
	return max(value-step, axis.min), false
}
