package color

import (
	"math"
	"testing"
)

func TestScale(t *testing.T) {
	tests := []struct {
		v    uint8
		b    float64
		want uint8
	}{
		{v: 200, b: 1, want: 200},
		{v: 255, b: 1, want: 255},
		{v: 200, b: 0, want: 0},
		{v: 255, b: 0, want: 0},
		{v: 255, b: 0.5, want: 128},
		{v: 3, b: 0.5, want: 2},
		{v: 100, b: 0.25, want: 25},
		{v: 10, b: math.NaN(), want: 0},
		{v: 10, b: -1, want: 0},
		{v: 200, b: 2, want: 255},
	}
	for _, tt := range tests {
		if got := Scale(tt.v, tt.b); got != tt.want {
			t.Errorf("Scale(%d, %v) = %d, want %d", tt.v, tt.b, got, tt.want)
		}
	}
}

func TestScaleExhaustive(t *testing.T) {
	for _, b := range []float64{0, 0.1, 0.33, 0.5, 0.75, 0.999, 1} {
		for v := 0; v <= 255; v++ {
			want := math.Round(float64(v) * b)
			if got := Scale(uint8(v), b); float64(got) != want {
				t.Fatalf("Scale(%d, %v) = %d, want %v", v, b, got, want)
			}
		}
	}
}

func TestMaxDelta(t *testing.T) {
	a := RGB{R: 10, G: 10, B: 10}
	if d := a.MaxDelta(RGB{R: 11, G: 11, B: 10}); d != 1 {
		t.Fatalf("expected 1, got %d", d)
	}
	if d := a.MaxDelta(RGB{R: 0, G: 30, B: 10}); d != 20 {
		t.Fatalf("expected 20, got %d", d)
	}
	if d := a.MaxDelta(a); d != 0 {
		t.Fatalf("expected 0, got %d", d)
	}
}

func TestHSBK(t *testing.T) {
	red := RGB{R: 255}.HSBK(DefaultKelvin)
	if red.Hue != 0 || red.Saturation != math.MaxUint16 || red.Brightness != math.MaxUint16 {
		t.Fatalf("unexpected red: %+v", red)
	}
	if red.Kelvin != DefaultKelvin {
		t.Fatalf("expected kelvin %d, got %d", DefaultKelvin, red.Kelvin)
	}

	black := RGB{}.HSBK(DefaultKelvin)
	if black.Brightness != 0 {
		t.Fatalf("expected zero brightness, got %d", black.Brightness)
	}

	white := RGB{R: 255, G: 255, B: 255}.HSBK(DefaultKelvin)
	if white.Saturation != 0 || white.Brightness != math.MaxUint16 {
		t.Fatalf("unexpected white: %+v", white)
	}

	blue := RGB{B: 255}.HSBK(DefaultKelvin)
	want := uint16(math.Round(240.0 / 360 * math.MaxUint16))
	if blue.Hue != want {
		t.Fatalf("expected hue %d, got %d", want, blue.Hue)
	}
}
