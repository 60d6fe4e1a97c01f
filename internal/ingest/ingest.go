package ingest

import (
	"errors"
	"sync/atomic"

	"sacn2lifx/internal/color"
	"sacn2lifx/internal/logger"
	"sacn2lifx/internal/mapping"
	"sacn2lifx/internal/metrics"
	"sacn2lifx/internal/universe"
)

// ErrPaused is returned for frames that arrive while processing is stopped.
var ErrPaused = errors.New("ingest paused")

// Submitter receives computed light targets. Submit must not block.
type Submitter interface {
	Submit(lightID string, rgb color.RGB)
}

// Ingester merges frames into the universe table and feeds the mapped lights.
type Ingester struct {
	log      logger.Logger
	mappings *mapping.Store
	table    *universe.Table
	out      Submitter
	paused   atomic.Bool
}

// New конструктор. The ingester starts paused.
func New(log logger.Logger, mappings *mapping.Store, table *universe.Table, out Submitter) *Ingester {
	i := &Ingester{
		log:      log,
		mappings: mappings,
		table:    table,
		out:      out,
	}
	i.paused.Store(true)
	return i
}

// Pause drops every frame until Resume.
func (i *Ingester) Pause() {
	i.paused.Store(true)
}

// Resume accepts frames again.
func (i *Ingester) Resume() {
	i.paused.Store(false)
}

// Paused reports whether frames are being dropped.
func (i *Ingester) Paused() bool {
	return i.paused.Load()
}

// Ingest applies one frame. Rejected frames return a *universe.FrameError which the
// caller is expected to drop.
func (i *Ingester) Ingest(f universe.Frame) error {
	if i.paused.Load() {
		return ErrPaused
	}

	st, err := i.table.Apply(f)
	if err != nil {
		metrics.IncFrame(metrics.ResultRejected, reason(err))
		i.log.With(logger.Fields{"module": "ingest", "universe": f.Universe}).Debugf("frame dropped: %v", err)
		return err
	}
	metrics.IncFrame(metrics.ResultAccepted, "")

	// One snapshot per frame.
	for _, m := range i.mappings.Snapshot().ForUniverse(f.Universe) {
		i.out.Submit(m.LightID, m.Target(&st.Channels))
	}
	return nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, universe.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, universe.ErrStale):
		return "stale"
	case errors.Is(err, universe.ErrBadLength):
		return "length"
	case errors.Is(err, universe.ErrBadUniverse):
		return "universe"
	default:
		return "unknown"
	}
}
