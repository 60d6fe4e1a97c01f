package artnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Haba1234/go-artnet/packet"
	"sacn2lifx/internal/logger"
	"sacn2lifx/internal/metrics"
	"sacn2lifx/internal/universe"
)

// Port is the Art-Net UDP port.
const Port = 6454

const (
	artNetID   = "Art-Net\x00"
	headerSize = 18 // ArtDMX header up to the first data slot
)

var (
	ErrNotDMX    = errors.New("not an ArtDMX packet")
	ErrMalformed = errors.New("malformed ArtDMX packet")
)

// Handler consumes decoded frames.
type Handler interface {
	Ingest(f universe.Frame) error
}

// Conf структура конфигурации.
type Conf struct {
	Listen         string // Listen - адрес UDP.
	CIDR           string // CIDR - если задан, слушать на IP из этой сети.
	UniverseOffset int    // UniverseOffset - universe = port-address + offset.
}

// Receiver is transport for the ArtNet protocol (DMX over UDP/IP).
type Receiver struct {
	logger  logger.Logger
	handler Handler
	conn    *net.UDPConn
	offset  int
}

// NewReceiver конструктор.
func NewReceiver(log logger.Logger, cfg Conf, h Handler) (*Receiver, error) {
	listen := cfg.Listen
	if cfg.CIDR != "" {
		ip, err := FindIP(cfg.CIDR)
		if err != nil {
			return nil, fmt.Errorf("failed to find the art-net IP: %w", err)
		}
		listen = fmt.Sprintf("%s:%d", ip, Port)
	}
	if listen == "" {
		listen = fmt.Sprintf(":%d", Port)
	}

	addr, err := net.ResolveUDPAddr("udp4", listen)
	if err != nil {
		return nil, fmt.Errorf("resolve art-net address %q: %w", listen, err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen art-net %s: %w", addr, err)
	}

	log.With(logger.Fields{"module": "art-net"}).Infof("Using ArtNet address %s, universe offset %d", conn.LocalAddr(), cfg.UniverseOffset)
	return &Receiver{
		logger:  log,
		handler: h,
		conn:    conn,
		offset:  cfg.UniverseOffset,
	}, nil
}

// Run reads packets until ctx is done.
func (r *Receiver) Run(ctx context.Context) {
	log := r.logger.With(logger.Fields{"module": "art-net"})
	buf := make([]byte, 1500)

	for {
		if ctx.Err() != nil {
			return
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Debugf("read: %v", err)
			continue
		}

		f, err := Decode(buf[:n], r.offset)
		if errors.Is(err, ErrNotDMX) {
			// ArtPoll and friends.
			continue
		}
		if err != nil {
			metrics.IncDecodeError("artnet")
			log.Debugf("decode: %v", err)
			continue
		}
		_ = r.handler.Ingest(f)
	}
}

// LocalAddr returns the bound socket address.
func (r *Receiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// Close the ArtNet socket.
func (r *Receiver) Close() error {
	return r.conn.Close()
}

// Decode converts an ArtDMX packet into a frame. Sequence 0 means the sender
// does not sequence its packets. Packets with another opcode return ErrNotDMX,
// broken ArtDMX packets return ErrMalformed.
func Decode(b []byte, offset int) (universe.Frame, error) {
	if !isArtDMX(b) {
		return universe.Frame{}, ErrNotDMX
	}

	p, err := packet.Unmarshal(b)
	if err != nil {
		return universe.Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	dmx, ok := p.(*packet.ArtDMXPacket)
	if !ok {
		return universe.Frame{}, ErrNotDMX
	}

	if dmx.Length < 2 || dmx.Length > 512 || dmx.Length%2 != 0 {
		return universe.Frame{}, fmt.Errorf("%w: length %d", ErrMalformed, dmx.Length)
	}
	if len(b) < headerSize+int(dmx.Length) {
		return universe.Frame{}, fmt.Errorf("%w: length %d in %d bytes", ErrMalformed, dmx.Length, len(b))
	}

	u := int(addressToUniverse(dmx.Net, dmx.SubUni)) + offset
	if u < 1 || u > 0xffff {
		return universe.Frame{}, fmt.Errorf("port address %d with offset %d out of range", u-offset, offset)
	}

	return universe.Frame{
		Universe:    uint16(u),
		Sequence:    dmx.Sequence,
		Channels:    append([]byte(nil), dmx.Data[:dmx.Length]...),
		Unsequenced: dmx.Sequence == 0,
	}, nil
}

// isArtDMX checks the Art-Net id and the OpDmx opcode (little endian).
func isArtDMX(b []byte) bool {
	return len(b) >= 10 && string(b[:8]) == artNetID && b[8] == 0x00 && b[9] == 0x50
}

// addressToUniverse converts an art-net address to a port address.
// старший байт - Net, младший байт - SubUni.
func addressToUniverse(netAddr, subUni uint8) uint16 {
	return uint16(netAddr&0x7f)<<8 | uint16(subUni)
}
