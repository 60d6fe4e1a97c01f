package sacn

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"sacn2lifx/internal/universe"
)

// DefaultPort is the E1.31 UDP port.
const DefaultPort = 5568

const (
	vectorRootData    = 0x00000004
	vectorFramingData = 0x00000002
	vectorDMPSetProp  = 0x02

	optPreview    = 0x80
	optTerminated = 0x40

	minPacketSize = 126 // up to and including the start code
)

var acnIdentifier = []byte("ASC-E1.17\x00\x00\x00")

var (
	ErrNotE131    = errors.New("not an E1.31 data packet")
	ErrStartCode  = errors.New("non-zero start code")
	ErrPreview    = errors.New("preview data")
	ErrTerminated = errors.New("stream terminated")
)

// Packet is a decoded E1.31 data packet.
type Packet struct {
	Frame      universe.Frame
	SourceName string
	Priority   uint8
	CID        [16]byte
}

// Decode parses an E1.31 data packet. Packets with a non-zero start code, preview
// data or the stream-terminated flag return an error and carry no frame.
func Decode(b []byte) (Packet, error) {
	if len(b) < minPacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrNotE131, len(b))
	}
	if !bytes.Equal(b[4:16], acnIdentifier) {
		return Packet{}, fmt.Errorf("%w: bad ACN identifier", ErrNotE131)
	}
	if binary.BigEndian.Uint32(b[18:22]) != vectorRootData {
		return Packet{}, fmt.Errorf("%w: root vector", ErrNotE131)
	}
	if binary.BigEndian.Uint32(b[40:44]) != vectorFramingData {
		return Packet{}, fmt.Errorf("%w: framing vector", ErrNotE131)
	}
	if b[117] != vectorDMPSetProp {
		return Packet{}, fmt.Errorf("%w: dmp vector", ErrNotE131)
	}

	var p Packet
	copy(p.CID[:], b[22:38])
	p.SourceName = string(bytes.TrimRight(b[44:108], "\x00"))
	p.Priority = b[108]

	opts := b[112]
	if opts&optPreview != 0 {
		return p, ErrPreview
	}
	if opts&optTerminated != 0 {
		return p, ErrTerminated
	}
	if b[125] != 0 {
		return p, ErrStartCode
	}

	count := int(binary.BigEndian.Uint16(b[123:125]))
	slots := count - 1
	if slots < 1 || slots > universe.ChannelCount || len(b) < minPacketSize+slots {
		return p, fmt.Errorf("%w: property count %d for %d bytes", ErrNotE131, count, len(b))
	}

	p.Frame = universe.Frame{
		Universe: binary.BigEndian.Uint16(b[113:115]),
		Sequence: b[111],
		Channels: append([]byte(nil), b[minPacketSize:minPacketSize+slots]...),
	}
	return p, nil
}

// Encode builds an E1.31 data packet.
func Encode(p Packet) []byte {
	slots := len(p.Frame.Channels)
	b := make([]byte, minPacketSize+slots)

	binary.BigEndian.PutUint16(b[0:2], 0x0010)
	copy(b[4:16], acnIdentifier)
	binary.BigEndian.PutUint16(b[16:18], 0x7000|uint16(len(b)-16))
	binary.BigEndian.PutUint32(b[18:22], vectorRootData)
	copy(b[22:38], p.CID[:])

	binary.BigEndian.PutUint16(b[38:40], 0x7000|uint16(len(b)-38))
	binary.BigEndian.PutUint32(b[40:44], vectorFramingData)
	copy(b[44:108], p.SourceName)
	b[108] = p.Priority
	b[111] = p.Frame.Sequence
	binary.BigEndian.PutUint16(b[113:115], p.Frame.Universe)

	binary.BigEndian.PutUint16(b[115:117], 0x7000|uint16(len(b)-115))
	b[117] = vectorDMPSetProp
	b[118] = 0xa1
	binary.BigEndian.PutUint16(b[121:123], 1)
	binary.BigEndian.PutUint16(b[123:125], uint16(slots+1))
	copy(b[minPacketSize:], p.Frame.Channels)
	return b
}

// MulticastGroup returns the E1.31 multicast address of a universe.
func MulticastGroup(u uint16) net.IP {
	return net.IPv4(239, 255, byte(u>>8), byte(u))
}
