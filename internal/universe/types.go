package universe

import (
	"errors"
	"fmt"
	"time"
)

// ChannelCount is the number of DMX slots in a universe.
const ChannelCount = 512

// UniverseMin and UniverseMax bound the E1.31 universe number.
const (
	UniverseMin = 1
	UniverseMax = 63999
)

// StaleWindow is how far behind the last accepted sequence a frame may be and still
// count as a reordered (stale) frame. Anything further behind is taken as a source restart.
const StaleWindow = 20

var (
	ErrDuplicate   = errors.New("duplicate sequence")
	ErrStale       = errors.New("stale sequence")
	ErrBadLength   = errors.New("bad channel count")
	ErrBadUniverse = errors.New("bad universe")
)

// Frame is one decoded DMX update.
type Frame struct {
	Universe    uint16
	Sequence    uint8
	Channels    []byte // Channels[0] is DMX channel 1.
	Unsequenced bool   // Unsequenced frames skip the ordering check.
}

// FrameError is returned for frames the table refused to merge.
type FrameError struct {
	Universe uint16
	Sequence uint8
	Err      error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("universe %d seq %d: %v", e.Universe, e.Sequence, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// State is a copy of the reception state of one universe.
type State struct {
	Universe    uint16
	Channels    [ChannelCount]byte
	Sequence    uint8
	LastSeen    time.Time
	PacketCount uint64
	Rejected    uint64
}

// Activity is the reporting view of one universe.
type Activity struct {
	Universe    uint16    `json:"universe"`
	PacketCount uint64    `json:"packet_count"`
	Rejected    uint64    `json:"rejected"`
	LastSeen    time.Time `json:"last_seen"`
	Active      bool      `json:"active"`
}
