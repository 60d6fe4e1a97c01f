package lifx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"sacn2lifx/internal/color"
	"sacn2lifx/internal/logger"
)

var (
	ErrUnknownLight = errors.New("light has no known address")
	ErrTimeout      = errors.New("no acknowledgement from light")
)

// ClientConf holds socket and protocol options.
type ClientConf struct {
	Bind        string // Bind - локальный адрес, например "0.0.0.0:0".
	AckRequired bool   // AckRequired - ждать Acknowledgement на каждую команду.
	Kelvin      uint16
}

type ackKey struct {
	ip  string
	seq uint8
}

// Client sends color commands over the LIFX LAN protocol. It is safe for concurrent use.
type Client struct {
	log      logger.Logger
	conn     *net.UDPConn
	registry *Registry
	cfg      ClientConf
	source   uint32
	seq      atomic.Uint32

	mu      sync.Mutex
	waiters map[ackKey]chan struct{}
}

// NewClient opens the UDP socket.
func NewClient(log logger.Logger, cfg ClientConf, registry *Registry) (*Client, error) {
	if cfg.Bind == "" {
		cfg.Bind = "0.0.0.0:0"
	}
	if cfg.Kelvin == 0 {
		cfg.Kelvin = color.DefaultKelvin
	}
	laddr, err := net.ResolveUDPAddr("udp4", cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("resolve lifx bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen lifx socket: %w", err)
	}

	c := &Client{
		log:      log,
		conn:     conn,
		registry: registry,
		cfg:      cfg,
		source:   newSource(),
		waiters:  make(map[ackKey]chan struct{}),
	}
	c.log.With(logger.Fields{"module": "lifx"}).Infof("socket bound to %s, source %08x", conn.LocalAddr(), c.source)
	return c, nil
}

// newSource picks a random client identifier; 0 and 1 are reserved by devices.
func newSource() uint32 {
	id := uuid.New()
	s := binary.LittleEndian.Uint32(id[:4])
	if s < 2 {
		s += 2
	}
	return s
}

// Send implements dispatch.Sink.
func (c *Client) Send(ctx context.Context, lightID string, rgb color.RGB, fade time.Duration) error {
	dev, ok := c.registry.Lookup(lightID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLight, lightID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	seq := uint8(c.seq.Add(1))
	h := Header{
		Tagged:      dev.Target == [8]byte{},
		Source:      c.source,
		Target:      dev.Target,
		AckRequired: c.cfg.AckRequired,
		Sequence:    seq,
	}
	pkt := EncodeSetColor(h, rgb.HSBK(c.cfg.Kelvin), fade)

	var wait chan struct{}
	key := ackKey{ip: dev.Addr.IP.String(), seq: seq}
	if c.cfg.AckRequired {
		wait = make(chan struct{})
		c.mu.Lock()
		c.waiters[key] = wait
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			delete(c.waiters, key)
			c.mu.Unlock()
		}()
	}

	if _, err := c.conn.WriteToUDP(pkt, dev.Addr); err != nil {
		return fmt.Errorf("send to %s: %w", dev.Addr, err)
	}
	if wait == nil {
		return nil
	}

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w %s: %v", ErrTimeout, lightID, ctx.Err())
	}
}

// Run reads device responses until ctx is done and resolves pending acknowledgements.
func (c *Client) Run(ctx context.Context) {
	log := c.log.With(logger.Fields{"module": "lifx"})
	buf := make([]byte, 1500)

	for {
		if ctx.Err() != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, from, err := c.conn.ReadFromUDP(buf)
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

		h, err := DecodeHeader(buf[:n])
		if err != nil || h.Source != c.source {
			continue
		}
		if h.Type != MsgAcknowledgement {
			continue
		}

		key := ackKey{ip: from.IP.To4().String(), seq: h.Sequence}
		c.mu.Lock()
		if ch, ok := c.waiters[key]; ok {
			close(ch)
			delete(c.waiters, key)
		}
		c.mu.Unlock()
	}
}

// LocalAddr returns the bound socket address.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close closes the socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
