package mapping

import (
	"errors"
	"fmt"

	"sacn2lifx/internal/color"
	"sacn2lifx/internal/universe"
)

const (
	// UniverseMin and UniverseMax bound the E1.31 universe number.
	UniverseMin = universe.UniverseMin
	UniverseMax = universe.UniverseMax

	// ChannelCount is the number of DMX slots in a universe.
	ChannelCount = universe.ChannelCount
)

// ErrInvalidMapping is wrapped by every ConfigError.
var ErrInvalidMapping = errors.New("invalid mapping")

// Mode defines how many channels a light consumes and how they are read.
type Mode string

// ModeRGB3 reads three consecutive 8-bit channels as R, G, B.
const ModeRGB3 Mode = "RGB3"

// Width returns the number of channels the mode consumes, 0 for unknown modes.
func (m Mode) Width() int {
	switch m {
	case ModeRGB3:
		return 3
	default:
		return 0
	}
}

// Mapping links a (universe, channel range) to a light.
type Mapping struct {
	LightID      string  `json:"light_id"`      // LightID - идентификатор лампы (hex MAC).
	Universe     uint16  `json:"universe"`      // Universe - номер вселенной DMX.
	StartChannel int     `json:"start_channel"` // StartChannel - первый канал (1-512).
	Brightness   float64 `json:"brightness"`    // Brightness - множитель яркости 0..1.
	Mode         Mode    `json:"mode"`          // Mode - режим каналов.
}

// Target reads the mapping's channels out of a universe and applies brightness.
// channels[0] is DMX channel 1.
func (m Mapping) Target(channels *[ChannelCount]byte) color.RGB {
	i := m.StartChannel - 1
	return color.RGB{
		R: channels[i],
		G: channels[i+1],
		B: channels[i+2],
	}.Scale(m.Brightness)
}

// ConfigError describes why a mapping set was rejected.
type ConfigError struct {
	Index   int
	LightID string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mapping %d (light %q): %s", e.Index, e.LightID, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidMapping
}
