package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sacn2lifx/internal/color"
	"sacn2lifx/internal/dispatch"
	"sacn2lifx/internal/ingest"
	"sacn2lifx/internal/logger"
	"sacn2lifx/internal/mapping"
	"sacn2lifx/internal/universe"
)

type sent struct {
	lightID string
	rgb     color.RGB
}

type fakeSink struct {
	mu   sync.Mutex
	sent []sent
}

func (s *fakeSink) Send(_ context.Context, lightID string, rgb color.RGB, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{lightID, rgb})
	return nil
}

func (s *fakeSink) all() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.sent...)
}

type directory map[string]bool

func (d directory) Known(id string) bool { return d[id] }

func newEngine(t *testing.T) (*Engine, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	policy := dispatch.DefaultPolicy()
	policy.Tick = 2 * time.Millisecond
	e := New(logger.NewDiscard(), sink, directory{"desk": true, "wall": true, "spare": true}, policy, time.Second)
	err := e.ReplaceMappings([]mapping.Mapping{
		{LightID: "desk", Universe: 1, StartChannel: 1, Brightness: 1},
		{LightID: "wall", Universe: 1, StartChannel: 4, Brightness: 0.5},
	})
	if err != nil {
		t.Fatalf("ReplaceMappings: %v", err)
	}
	return e, sink
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func frame(u uint16, seq uint8, vals ...byte) universe.Frame {
	ch := make([]byte, 512)
	copy(ch, vals)
	return universe.Frame{Universe: u, Sequence: seq, Channels: ch}
}

func TestStoppedEngineDropsFrames(t *testing.T) {
	e, sink := newEngine(t)

	if err := e.Ingest(frame(1, 1, 255)); !errors.Is(err, ingest.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if _, ok := e.Universe(1); ok {
		t.Fatal("paused engine must not record universe state")
	}
	if e.Status().Running {
		t.Fatal("engine must start stopped")
	}
	if len(sink.all()) != 0 {
		t.Fatal("no sends expected")
	}
}

func TestFrameReachesSink(t *testing.T) {
	e, sink := newEngine(t)
	e.Start(context.Background())
	defer e.Stop()

	if err := e.Ingest(frame(1, 1, 200, 100, 50, 100, 60, 255)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	waitFor(t, func() bool { return len(sink.all()) == 2 })

	got := map[string]color.RGB{}
	for _, s := range sink.all() {
		got[s.lightID] = s.rgb
	}
	if got["desk"] != (color.RGB{R: 200, G: 100, B: 50}) {
		t.Fatalf("desk: %+v", got["desk"])
	}
	if got["wall"] != (color.RGB{R: 50, G: 30, B: 128}) {
		t.Fatalf("wall: %+v", got["wall"])
	}
}

func TestStopKeepsState(t *testing.T) {
	e, sink := newEngine(t)
	e.Start(context.Background())
	if err := e.Ingest(frame(1, 1, 10, 10, 10)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	waitFor(t, func() bool { return len(sink.all()) == 2 })
	e.Stop()
	e.Wait()

	if e.Running() {
		t.Fatal("expected stopped")
	}
	st, ok := e.Universe(1)
	if !ok || st.Channels[0] != 10 || st.PacketCount != 1 {
		t.Fatalf("universe state lost: %+v", st)
	}
	if e.Mappings().Len() != 2 {
		t.Fatal("mappings lost on stop")
	}

	// Submissions while stopped are not sent.
	n := len(sink.all())
	if err := e.TestSend("desk", color.RGB{R: 255}, 1); err != nil {
		t.Fatalf("TestSend: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if len(sink.all()) != n {
		t.Fatal("stopped engine must not call the sink")
	}

	// Resume picks up where it left off.
	e.Start(context.Background())
	defer e.Stop()
	waitFor(t, func() bool { return len(sink.all()) == n+1 })
	if err := e.Ingest(frame(1, 2, 20)); err != nil {
		t.Fatalf("Ingest after restart: %v", err)
	}
}

func TestTestSend(t *testing.T) {
	e, sink := newEngine(t)
	e.Start(context.Background())
	defer e.Stop()

	if err := e.TestSend("ghost", color.RGB{R: 1}, 1); !errors.Is(err, ErrUnknownLight) {
		t.Fatalf("expected ErrUnknownLight, got %v", err)
	}
	for _, b := range []float64{-0.1, 1.5} {
		if err := e.TestSend("desk", color.RGB{R: 1}, b); !errors.Is(err, ErrBrightness) {
			t.Fatalf("brightness %v: expected ErrBrightness, got %v", b, err)
		}
	}

	// Lights without a mapping can be tested as long as their address is known.
	if err := e.TestSend("spare", color.RGB{R: 255, G: 101, B: 0}, 0.5); err != nil {
		t.Fatalf("TestSend: %v", err)
	}
	waitFor(t, func() bool { return len(sink.all()) == 1 })
	if got := sink.all()[0]; got.lightID != "spare" || got.rgb != (color.RGB{R: 128, G: 51, B: 0}) {
		t.Fatalf("unexpected send: %+v", got)
	}
}

func TestReplaceMappings(t *testing.T) {
	e, _ := newEngine(t)

	err := e.ReplaceMappings([]mapping.Mapping{
		{LightID: "desk", Universe: 1, StartChannel: 511, Brightness: 1},
	})
	if !errors.Is(err, mapping.ErrInvalidMapping) {
		t.Fatalf("expected ErrInvalidMapping, got %v", err)
	}
	if e.Mappings().Len() != 2 {
		t.Fatal("previous mappings must stay active")
	}

	if err := e.TestSend("wall", color.RGB{R: 1}, 1); err != nil {
		t.Fatalf("TestSend: %v", err)
	}
	if err := e.ReplaceMappings([]mapping.Mapping{{LightID: "desk", Universe: 2, StartChannel: 1, Brightness: 1}}); err != nil {
		t.Fatalf("ReplaceMappings: %v", err)
	}
	for _, l := range e.Status().Lights {
		if l.LightID == "wall" {
			t.Fatal("unmapped light state should be pruned")
		}
	}
}

func TestStatus(t *testing.T) {
	e, _ := newEngine(t)
	e.Start(context.Background())
	defer e.Stop()

	if err := e.Ingest(frame(1, 1, 1)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	_ = e.Ingest(frame(1, 1, 1)) // duplicate

	st := e.Status()
	if !st.Running || st.Mappings != 2 || st.MappingVersion == 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if len(st.Universes) != 1 {
		t.Fatalf("expected 1 universe, got %d", len(st.Universes))
	}
	u := st.Universes[0]
	if u.Universe != 1 || u.PacketCount != 1 || u.Rejected != 1 || !u.Active {
		t.Fatalf("unexpected activity: %+v", u)
	}
}

type joiner struct {
	calls [][]uint16
}

func (j *joiner) SetUniverses(us []uint16) error {
	j.calls = append(j.calls, us)
	return nil
}

func TestMappingsAppliedHook(t *testing.T) {
	e, _ := newEngine(t)
	j := &joiner{}
	e.OnMappingsApplied(func(snap *mapping.Snapshot) {
		_ = j.SetUniverses(snap.Universes())
	})

	if err := e.ReplaceMappings([]mapping.Mapping{{LightID: "desk", Universe: 1, StartChannel: 600}}); err == nil {
		t.Fatal("expected an invalid set")
	}
	if len(j.calls) != 0 {
		t.Fatal("hook must not run for a rejected set")
	}

	err := e.ReplaceMappings([]mapping.Mapping{
		{LightID: "desk", Universe: 7, StartChannel: 1, Brightness: 1},
		{LightID: "wall", Universe: 3, StartChannel: 1, Brightness: 1},
	})
	if err != nil {
		t.Fatalf("ReplaceMappings: %v", err)
	}
	if len(j.calls) != 1 || len(j.calls[0]) != 2 || j.calls[0][0] != 3 || j.calls[0][1] != 7 {
		t.Fatalf("unexpected joins: %v", j.calls)
	}
}
