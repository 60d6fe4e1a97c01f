package lifx

import (
	"encoding/hex"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
)

// Device is a light with a known network address.
type Device struct {
	ID     string
	Target [8]byte // zero target is sent tagged
	Addr   *net.UDPAddr
	Label  string
}

// ParseDevice builds a Device from configuration. IDs that are a 12 or 16 digit hex
// MAC become the packet target; anything else is addressed by IP only.
func ParseDevice(id, ip, label string, port int) (Device, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return Device{}, fmt.Errorf("light id is required")
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil || parsed.To4() == nil {
		return Device{}, fmt.Errorf("light %s: invalid IPv4 address %q", id, ip)
	}
	if port == 0 {
		port = DefaultPort
	}

	d := Device{
		ID:    id,
		Addr:  &net.UDPAddr{IP: parsed.To4(), Port: port},
		Label: label,
	}
	if len(id) == 12 || len(id) == 16 {
		if raw, err := hex.DecodeString(id); err == nil {
			copy(d.Target[:], raw)
		}
	}
	return d, nil
}

// Registry maps light ids to devices.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewRegistry конструктор.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]Device)}
}

// Replace swaps the whole address book.
func (r *Registry) Replace(devices []Device) {
	next := make(map[string]Device, len(devices))
	for _, d := range devices {
		next[d.ID] = d
	}
	r.mu.Lock()
	r.devices = next
	r.mu.Unlock()
}

// Lookup returns the device of a light.
func (r *Registry) Lookup(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// Known reports whether a light has a network address.
func (r *Registry) Known(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// All returns every device ordered by id.
func (r *Registry) All() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
