package hue

import (
	"math"
	"testing"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		r, g, b uint8
		ok      bool
	}{
		{in: "#FF8000", r: 0xFF, g: 0x80, b: 0x00, ok: true},
		{in: "#80FF8000", r: 0xFF, g: 0x80, b: 0x00, ok: true},
		{in: "#f80", r: 0xFF, g: 0x88, b: 0x00, ok: true},
		{in: "#8f80", r: 0xFF, g: 0x88, b: 0x00, ok: true},
		{in: "Red", r: 0xFF, ok: true},
		{in: "dark orange", r: 0xFF, g: 0x8C, ok: true},
		{in: "  white ", r: 0xFF, g: 0xFF, b: 0xFF, ok: true},
		{in: "#12345", ok: false},
		{in: "#GGGGGG", ok: false},
		{in: "blurple", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r, g, b, ok := ParseColor(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseColor(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if !ok {
				return
			}
			if r != tt.r || g != tt.g || b != tt.b {
				t.Errorf("ParseColor(%q) = %d,%d,%d, want %d,%d,%d", tt.in, r, g, b, tt.r, tt.g, tt.b)
			}
		})
	}
}

func TestRGBToXY(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
		want    [2]float64
	}{
		{name: "black", want: [2]float64{0, 0}},
		{name: "red", r: 255, want: [2]float64{0.7006, 0.2993}},
		{name: "green", g: 255, want: [2]float64{0.1724, 0.7468}},
		{name: "blue", b: 255, want: [2]float64{0.1355, 0.0399}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RGBToXY(tt.r, tt.g, tt.b)
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 0.001 {
					t.Errorf("RGBToXY() = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}
