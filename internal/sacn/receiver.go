package sacn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"sacn2lifx/internal/logger"
	"sacn2lifx/internal/metrics"
	"sacn2lifx/internal/universe"
)

// Handler consumes decoded frames.
type Handler interface {
	Ingest(f universe.Frame) error
}

// Conf structure of the receiver.
type Conf struct {
	Interface string // Interface - IP локального интерфейса, пусто = все.
	Port      int
}

// Receiver listens for E1.31 multicast traffic.
type Receiver struct {
	log     logger.Logger
	handler Handler
	conn    net.PacketConn
	pc      *ipv4.PacketConn
	ifi     *net.Interface

	mu     sync.Mutex
	joined map[uint16]struct{}
}

// NewReceiver конструктор.
func NewReceiver(log logger.Logger, cfg Conf, h Handler) (*Receiver, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	var ifi *net.Interface
	if cfg.Interface != "" && cfg.Interface != "0.0.0.0" {
		var err error
		if ifi, err = interfaceByIP(net.ParseIP(cfg.Interface)); err != nil {
			return nil, err
		}
	}

	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen sacn port %d: %w", cfg.Port, err)
	}

	return &Receiver{
		log:     log,
		handler: h,
		conn:    conn,
		pc:      ipv4.NewPacketConn(conn),
		ifi:     ifi,
		joined:  make(map[uint16]struct{}),
	}, nil
}

// SetUniverses joins the multicast groups of the given universes and leaves the rest.
func (r *Receiver) SetUniverses(universes []uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.log.With(logger.Fields{"module": "sacn"})
	want := make(map[uint16]struct{}, len(universes))
	var errs []error

	for _, u := range universes {
		want[u] = struct{}{}
		if _, ok := r.joined[u]; ok {
			continue
		}
		group := &net.UDPAddr{IP: MulticastGroup(u)}
		if err := r.pc.JoinGroup(r.ifi, group); err != nil {
			// Unicast traffic still arrives without the join.
			errs = append(errs, fmt.Errorf("join universe %d (%s): %w", u, group.IP, err))
			continue
		}
		r.joined[u] = struct{}{}
		log.Infof("listening to universe %d on %s", u, group.IP)
	}

	for u := range r.joined {
		if _, ok := want[u]; ok {
			continue
		}
		if err := r.pc.LeaveGroup(r.ifi, &net.UDPAddr{IP: MulticastGroup(u)}); err != nil {
			log.Debugf("leave universe %d: %v", u, err)
		}
		delete(r.joined, u)
	}

	return errors.Join(errs...)
}

// Run reads packets until ctx is done.
func (r *Receiver) Run(ctx context.Context) {
	log := r.log.With(logger.Fields{"module": "sacn"})
	buf := make([]byte, 1144)

	for {
		if ctx.Err() != nil {
			return
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := r.conn.ReadFrom(buf)
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

		p, err := Decode(buf[:n])
		switch {
		case err == nil:
		case errors.Is(err, ErrStartCode), errors.Is(err, ErrPreview):
			continue
		case errors.Is(err, ErrTerminated):
			log.Infof("source %q terminated its stream", p.SourceName)
			continue
		default:
			metrics.IncDecodeError("sacn")
			log.Debugf("decode: %v", err)
			continue
		}

		_ = r.handler.Ingest(p.Frame)
	}
}

// Close leaves every group and closes the socket.
func (r *Receiver) Close() error {
	_ = r.SetUniverses(nil)
	return r.conn.Close()
}

func interfaceByIP(ip net.IP) (*net.Interface, error) {
	if ip == nil {
		return nil, errors.New("invalid sacn interface address")
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("error getting interfaces: %w", err)
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if n, ok := a.(*net.IPNet); ok && n.IP.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface with address %s", ip)
}
