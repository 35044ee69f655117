package metrics

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/dokzlo13/huesync/internal/eventbus"
	"github.com/dokzlo13/huesync/internal/hue"
)

const (
	measurementLightState  = "light_state"
	measurementBridgeEvent = "bridge_event"
)

// PointWriter is the write side of Client.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// SessionLookup resolves a bridge address to its live session.
type SessionLookup interface {
	Lookup(address string) (*hue.Session, bool)
}

// Recorder turns bus events into points: one light_state point per changed
// light and one bridge_event point for everything else.
type Recorder struct {
	writer   PointWriter
	sessions SessionLookup
	now      func() time.Time
}

func NewRecorder(writer PointWriter, sessions SessionLookup) *Recorder {
	return &Recorder{writer: writer, sessions: sessions, now: time.Now}
}

// Handle is an eventbus.Handler.
func (r *Recorder) Handle(event eventbus.Event) {
	bridge, _ := event.Data["bridge"].(string)

	if event.Type != eventbus.EventTypeLightChanged {
		r.writer.WritePoint(eventPoint(bridge, event, r.now()))
		return
	}

	id, _ := event.Data["id"].(string)
	session, ok := r.sessions.Lookup(bridge)
	if !ok {
		return
	}
	snap, ok := session.LightSnapshot(id)
	if !ok {
		return
	}
	r.writer.WritePoint(lightPoint(bridge, snap, r.now()))
}

func lightPoint(bridge string, snap hue.LightSnapshot, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		"on":         snap.State.On,
		"reachable":  snap.State.Reachable,
		"brightness": snap.State.Brightness,
	}
	switch snap.ColorMode {
	case hue.ColorModeHueSaturation.String():
		fields["hue"] = snap.State.Hue
		fields["saturation"] = snap.State.Saturation
	case hue.ColorModeXY.String():
		fields["x"] = snap.State.XY[0]
		fields["y"] = snap.State.XY[1]
	case hue.ColorModeColorTemperature.String():
		fields["ct"] = snap.State.ColorTemperature
	}

	return write.NewPoint(
		measurementLightState,
		map[string]string{
			"bridge":    bridge,
			"light_id":  snap.ID,
			"unique_id": snap.UniqueID,
			"name":      snap.Name,
		},
		fields,
		ts,
	)
}

func eventPoint(bridge string, event eventbus.Event, ts time.Time) *write.Point {
	tags := map[string]string{
		"bridge": bridge,
		"type":   string(event.Type),
	}
	if result, ok := event.Data["result"].(string); ok {
		tags["result"] = result
	}
	return write.NewPoint(measurementBridgeEvent, tags, map[string]interface{}{"count": 1}, ts)
}
