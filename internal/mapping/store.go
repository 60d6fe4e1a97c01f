package mapping

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Snapshot is an immutable view of the mapping set. Callers must not modify the
// slices it returns.
type Snapshot struct {
	Version    uint64
	all        []Mapping
	byUniverse map[uint16][]Mapping
	byLight    map[string]Mapping
}

// All returns every mapping ordered by universe, start channel and light id.
func (s *Snapshot) All() []Mapping {
	return s.all
}

// ForUniverse returns the mappings fed by the given universe.
func (s *Snapshot) ForUniverse(universe uint16) []Mapping {
	return s.byUniverse[universe]
}

// Light returns the mapping of a single light.
func (s *Snapshot) Light(id string) (Mapping, bool) {
	m, ok := s.byLight[id]
	return m, ok
}

// Universes returns the distinct universes referenced by the set, ascending.
func (s *Snapshot) Universes() []uint16 {
	out := make([]uint16, 0, len(s.byUniverse))
	for u := range s.byUniverse {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of mappings.
func (s *Snapshot) Len() int {
	return len(s.all)
}

// Store holds the active mapping set. Reads are lock-free; writers are serialised.
type Store struct {
	mu  sync.Mutex
	cur atomic.Pointer[Snapshot]
}

// NewStore конструктор.
func NewStore() *Store {
	s := &Store{}
	s.cur.Store(newSnapshot(0, nil))
	return s
}

// Snapshot returns the current point-in-time view.
func (s *Store) Snapshot() *Snapshot {
	return s.cur.Load()
}

// ReplaceAll validates the whole set and swaps it in. On any error the previous set
// remains active.
func (s *Store) ReplaceAll(mappings []Mapping) error {
	next := make([]Mapping, len(mappings))
	copy(next, mappings)

	if err := validate(next); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Store(newSnapshot(s.cur.Load().Version+1, next))
	return nil
}

func validate(ms []Mapping) error {
	lights := make(map[string]struct{}, len(ms))
	type slot struct {
		universe uint16
		start    int
	}
	slots := make(map[slot]string, len(ms))

	for i := range ms {
		m := &ms[i]
		if m.Mode == "" {
			m.Mode = ModeRGB3
		}
		fail := func(reason string) error {
			return &ConfigError{Index: i, LightID: m.LightID, Reason: reason}
		}

		if m.LightID == "" {
			return fail("light id is required")
		}
		width := m.Mode.Width()
		if width == 0 {
			return fail("unrecognized mode " + string(m.Mode))
		}
		if m.Universe < UniverseMin || m.Universe > UniverseMax {
			return fail("universe out of range 1-63999")
		}
		if m.StartChannel < 1 || m.StartChannel+width-1 > ChannelCount {
			return fail("channel range out of bounds 1-512")
		}
		if math.IsNaN(m.Brightness) || m.Brightness < 0 || m.Brightness > 1 {
			return fail("brightness out of range 0.0-1.0")
		}
		if _, ok := lights[m.LightID]; ok {
			return fail("duplicate light id")
		}
		lights[m.LightID] = struct{}{}

		k := slot{m.Universe, m.StartChannel}
		if other, ok := slots[k]; ok {
			return fail("channel range already claimed by light " + other)
		}
		slots[k] = m.LightID
	}
	return nil
}

func newSnapshot(version uint64, ms []Mapping) *Snapshot {
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.Universe != b.Universe {
			return a.Universe < b.Universe
		}
		if a.StartChannel != b.StartChannel {
			return a.StartChannel < b.StartChannel
		}
		return a.LightID < b.LightID
	})

	snap := &Snapshot{
		Version:    version,
		all:        ms,
		byUniverse: make(map[uint16][]Mapping),
		byLight:    make(map[string]Mapping, len(ms)),
	}
	for _, m := range ms {
		snap.byUniverse[m.Universe] = append(snap.byUniverse[m.Universe], m)
		snap.byLight[m.LightID] = m
	}
	return snap
}
