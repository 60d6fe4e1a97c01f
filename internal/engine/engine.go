package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"sacn2lifx/internal/color"
	"sacn2lifx/internal/dispatch"
	"sacn2lifx/internal/ingest"
	"sacn2lifx/internal/logger"
	"sacn2lifx/internal/mapping"
	"sacn2lifx/internal/universe"
)

var (
	ErrUnknownLight = errors.New("light has no known network address")
	ErrBrightness   = errors.New("brightness must be within [0, 1]")
)

// Directory tells which lights have a network address.
type Directory interface {
	Known(lightID string) bool
}

// Status is the engine view exposed to reporting layers.
type Status struct {
	Running        bool                   `json:"running"`
	MappingVersion uint64                 `json:"mapping_version"`
	Mappings       int                    `json:"mappings"`
	Universes      []universe.Activity    `json:"universes"`
	Lights         []dispatch.LightStatus `json:"lights"`
}

// Engine wires frame ingest to the dispatch scheduler.
type Engine struct {
	log             logger.Logger
	store           *mapping.Store
	table           *universe.Table
	ingester        *ingest.Ingester
	scheduler       *dispatch.Scheduler
	directory       Directory
	activityTimeout time.Duration

	applyMu sync.Mutex
	onApply []func(*mapping.Snapshot)

	mu      sync.Mutex
	cancel  context.CancelFunc
	loop    sync.WaitGroup
	running bool
}

// New конструктор. The engine is stopped until Start.
func New(log logger.Logger, sink dispatch.Sink, dir Directory, policy dispatch.Policy, activityTimeout time.Duration) *Engine {
	if activityTimeout <= 0 {
		activityTimeout = 2 * time.Second
	}
	store := mapping.NewStore()
	table := universe.NewTable()
	scheduler := dispatch.New(log, sink, policy)

	return &Engine{
		log:             log,
		store:           store,
		table:           table,
		ingester:        ingest.New(log, store, table, scheduler),
		scheduler:       scheduler,
		directory:       dir,
		activityTimeout: activityTimeout,
	}
}

// Start resumes frame ingest and the dispatch tick. Calling Start on a running
// engine does nothing.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}

	tickCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.loop.Add(1)
	go func() {
		defer e.loop.Done()
		e.scheduler.Run(tickCtx)
	}()
	e.ingester.Resume()

	e.log.With(logger.Fields{"module": "engine"}).Info("DMX processing started")
}

// Stop halts ingest and the tick. Mappings and universe state are kept and
// sends already in flight are left to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}

	e.ingester.Pause()
	e.cancel()
	e.loop.Wait()
	e.running = false

	e.log.With(logger.Fields{"module": "engine"}).Info("DMX processing stopped")
}

// Running reports whether frames are being processed.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Wait blocks until in-flight sends have returned.
func (e *Engine) Wait() {
	e.scheduler.Wait()
}

// Ingest handles one decoded frame.
func (e *Engine) Ingest(f universe.Frame) error {
	return e.ingester.Ingest(f)
}

// Mappings returns the active mapping snapshot.
func (e *Engine) Mappings() *mapping.Snapshot {
	return e.store.Snapshot()
}

// OnMappingsApplied registers f to run after every successful ReplaceMappings,
// in apply order.
func (e *Engine) OnMappingsApplied(f func(snap *mapping.Snapshot)) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	e.onApply = append(e.onApply, f)
}

// ReplaceMappings swaps the mapping set. On error the previous set stays active.
// Output state of lights that are no longer mapped is dropped.
func (e *Engine) ReplaceMappings(ms []mapping.Mapping) error {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	if err := e.store.ReplaceAll(ms); err != nil {
		return err
	}

	snap := e.store.Snapshot()
	e.scheduler.Prune(func(id string) bool {
		_, ok := snap.Light(id)
		return ok
	})

	e.log.With(logger.Fields{"module": "engine", "version": snap.Version}).
		Infof("mappings applied: %d lights on %d universes", snap.Len(), len(snap.Universes()))

	for _, f := range e.onApply {
		f(snap)
	}
	return nil
}

// TestSend drives one light directly, through the same rate limit and threshold
// as DMX input.
func (e *Engine) TestSend(lightID string, rgb color.RGB, brightness float64) error {
	if e.directory == nil || !e.directory.Known(lightID) {
		return fmt.Errorf("%w: %q", ErrUnknownLight, lightID)
	}
	if math.IsNaN(brightness) || brightness < 0 || brightness > 1 {
		return fmt.Errorf("%w: got %v", ErrBrightness, brightness)
	}

	e.scheduler.Submit(lightID, rgb.Scale(brightness))
	return nil
}

// Status is a pure read and may be called at any rate.
func (e *Engine) Status() Status {
	snap := e.store.Snapshot()
	return Status{
		Running:        e.Running(),
		MappingVersion: snap.Version,
		Mappings:       snap.Len(),
		Universes:      e.table.Status(e.activityTimeout),
		Lights:         e.scheduler.Lights(),
	}
}

// Universe returns the channel state of one universe.
func (e *Engine) Universe(u uint16) (universe.State, bool) {
	return e.table.Get(u)
}
