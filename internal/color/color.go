package color

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// DefaultKelvin is the white point sent with every color command.
const DefaultKelvin = 3500

// RGB is an 8-bit color triplet.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// HSBK is the LIFX color representation, all fields 0-65535 except Kelvin.
type HSBK struct {
	Hue        uint16
	Saturation uint16
	Brightness uint16
	Kelvin     uint16
}

// Scale returns round(v*b) clamped to [0,255].
func Scale(v uint8, b float64) uint8 {
	if math.IsNaN(b) || b <= 0 {
		return 0
	}
	if b == 1 {
		return v
	}
	x := math.Round(float64(v) * b)
	switch {
	case x < 0:
		return 0
	case x > 255:
		return 255
	}
	return uint8(x)
}

// Scale applies a brightness multiplier to every channel.
func (c RGB) Scale(b float64) RGB {
	return RGB{R: Scale(c.R, b), G: Scale(c.G, b), B: Scale(c.B, b)}
}

// MaxDelta returns the largest per-channel absolute difference.
func (c RGB) MaxDelta(o RGB) int {
	d := absDiff(c.R, o.R)
	if g := absDiff(c.G, o.G); g > d {
		d = g
	}
	if b := absDiff(c.B, o.B); b > d {
		d = b
	}
	return d
}

// HSBK converts the color to the device representation.
func (c RGB) HSBK(kelvin uint16) HSBK {
	h, s, v := colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Hsv()

	return HSBK{
		Hue:        unit16(h / 360),
		Saturation: unit16(s),
		Brightness: unit16(v),
		Kelvin:     kelvin,
	}
}

func unit16(x float64) uint16 {
	if x <= 0 || math.IsNaN(x) {
		return 0
	}
	if x >= 1 {
		return math.MaxUint16
	}
	return uint16(math.Round(x * math.MaxUint16))
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
