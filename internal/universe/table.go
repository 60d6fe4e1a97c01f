package universe

import (
	"sort"
	"sync"
	"time"
)

type entry struct {
	mu    sync.Mutex
	state State
	seen  bool
}

// Table holds per-universe channel state. The map lock is only taken for writing
// when a universe is seen for the first time; each universe has its own lock.
type Table struct {
	mu      sync.RWMutex
	entries map[uint16]*entry
	now     func() time.Time
}

// NewTable конструктор.
func NewTable() *Table {
	return &Table{
		entries: make(map[uint16]*entry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (t *Table) SetClock(now func() time.Time) {
	t.now = now
}

// Apply merges an accepted frame and returns the resulting state.
func (t *Table) Apply(f Frame) (State, error) {
	if f.Universe < UniverseMin || f.Universe > UniverseMax {
		return State{}, &FrameError{Universe: f.Universe, Sequence: f.Sequence, Err: ErrBadUniverse}
	}

	e := t.entry(f.Universe)
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(f.Channels) == 0 || len(f.Channels) > ChannelCount {
		e.state.Rejected++
		return State{}, &FrameError{Universe: f.Universe, Sequence: f.Sequence, Err: ErrBadLength}
	}
	if e.seen && !f.Unsequenced {
		if err := checkSequence(e.state.Sequence, f.Sequence); err != nil {
			e.state.Rejected++
			return State{}, &FrameError{Universe: f.Universe, Sequence: f.Sequence, Err: err}
		}
	}

	copy(e.state.Channels[:], f.Channels)
	e.state.Sequence = f.Sequence
	e.state.LastSeen = t.now()
	e.state.PacketCount++
	e.seen = true

	return e.state, nil
}

// checkSequence treats the 8-bit sequence as a wrapping counter.
func checkSequence(last, next uint8) error {
	d := int8(next - last)
	switch {
	case d == 0:
		return ErrDuplicate
	case d < 0 && d > -StaleWindow:
		return ErrStale
	}
	return nil
}

// Get returns a copy of the universe state.
func (t *Table) Get(universe uint16) (State, bool) {
	t.mu.RLock()
	e, ok := t.entries[universe]
	t.mu.RUnlock()
	if !ok {
		return State{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.seen {
		return State{}, false
	}
	return e.state, true
}

// Status reports every universe that has received data, ordered by universe.
func (t *Table) Status(timeout time.Duration) []Activity {
	t.mu.RLock()
	entries := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	now := t.now()
	out := make([]Activity, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.seen {
			out = append(out, Activity{
				Universe:    e.state.Universe,
				PacketCount: e.state.PacketCount,
				Rejected:    e.state.Rejected,
				LastSeen:    e.state.LastSeen,
				Active:      now.Sub(e.state.LastSeen) < timeout,
			})
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Universe < out[j].Universe })
	return out
}

func (t *Table) entry(universe uint16) *entry {
	t.mu.RLock()
	e, ok := t.entries[universe]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[universe]; ok {
		return e
	}
	e = &entry{state: State{Universe: universe}}
	t.entries[universe] = e
	return e
}
