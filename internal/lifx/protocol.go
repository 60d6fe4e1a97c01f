package lifx

import (
	"encoding/binary"
	"errors"
	"time"

	"sacn2lifx/internal/color"
)

const (
	// DefaultPort is the UDP port LIFX devices listen on.
	DefaultPort = 56700

	headerSize = 36
	protocol   = 1024

	setColorPayloadSize = 13
)

// Message types.
const (
	MsgAcknowledgement uint16 = 45
	MsgSetColor        uint16 = 102
)

var errShortPacket = errors.New("packet shorter than header")

// Header is the 36-byte LIFX LAN header.
type Header struct {
	Size        uint16
	Tagged      bool
	Source      uint32
	Target      [8]byte
	AckRequired bool
	ResRequired bool
	Sequence    uint8
	Type        uint16
}

func (h Header) encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], h.Size)

	bits := uint16(protocol&0x0fff) | 1<<12 // addressable
	if h.Tagged {
		bits |= 1 << 13
	}
	binary.LittleEndian.PutUint16(b[2:4], bits)
	binary.LittleEndian.PutUint32(b[4:8], h.Source)

	copy(b[8:16], h.Target[:])
	// b[16:22] reserved
	var flags byte
	if h.ResRequired {
		flags |= 1
	}
	if h.AckRequired {
		flags |= 1 << 1
	}
	b[22] = flags
	b[23] = h.Sequence

	// b[24:32] reserved
	binary.LittleEndian.PutUint16(b[32:34], h.Type)
	// b[34:36] reserved
}

// DecodeHeader parses the header of a received packet.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, errShortPacket
	}
	var h Header
	h.Size = binary.LittleEndian.Uint16(b[0:2])
	bits := binary.LittleEndian.Uint16(b[2:4])
	h.Tagged = bits&(1<<13) != 0
	h.Source = binary.LittleEndian.Uint32(b[4:8])
	copy(h.Target[:], b[8:16])
	h.ResRequired = b[22]&1 != 0
	h.AckRequired = b[22]&(1<<1) != 0
	h.Sequence = b[23]
	h.Type = binary.LittleEndian.Uint16(b[32:34])
	return h, nil
}

// EncodeSetColor builds a SetColor packet.
func EncodeSetColor(h Header, c color.HSBK, fade time.Duration) []byte {
	b := make([]byte, headerSize+setColorPayloadSize)
	h.Type = MsgSetColor
	h.Size = uint16(len(b))
	h.encode(b)

	p := b[headerSize:]
	// p[0] reserved
	binary.LittleEndian.PutUint16(p[1:3], c.Hue)
	binary.LittleEndian.PutUint16(p[3:5], c.Saturation)
	binary.LittleEndian.PutUint16(p[5:7], c.Brightness)
	binary.LittleEndian.PutUint16(p[7:9], c.Kelvin)
	ms := fade.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	binary.LittleEndian.PutUint32(p[9:13], uint32(ms))
	return b
}

// DecodeSetColor parses a SetColor payload. Used by tests and diagnostics.
func DecodeSetColor(b []byte) (color.HSBK, time.Duration, error) {
	if len(b) < headerSize+setColorPayloadSize {
		return color.HSBK{}, 0, errShortPacket
	}
	p := b[headerSize:]
	c := color.HSBK{
		Hue:        binary.LittleEndian.Uint16(p[1:3]),
		Saturation: binary.LittleEndian.Uint16(p[3:5]),
		Brightness: binary.LittleEndian.Uint16(p[5:7]),
		Kelvin:     binary.LittleEndian.Uint16(p[7:9]),
	}
	return c, time.Duration(binary.LittleEndian.Uint32(p[9:13])) * time.Millisecond, nil
}

// EncodeHeaderOnly builds a packet without payload, such as an Acknowledgement.
func EncodeHeaderOnly(h Header) []byte {
	b := make([]byte, headerSize)
	h.Size = headerSize
	h.encode(b)
	return b
}
