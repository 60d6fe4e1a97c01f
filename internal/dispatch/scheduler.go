package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"sacn2lifx/internal/color"
	"sacn2lifx/internal/logger"
	"sacn2lifx/internal/metrics"
)

type lightState struct {
	mu sync.Mutex
	id string

	phase      phase
	pending    color.RGB
	hasPending bool // also set while sending when a newer target arrived

	lastSent     color.RGB
	hasSent      bool
	lastSentTime time.Time // successful sends only
	lastAttempt  time.Time // every Sink invocation, gates MinInterval

	sends    uint64
	failures uint64
	lastErr  string
	removed  bool
}

// Scheduler owns per-light output state and decides when each light is sent.
type Scheduler struct {
	log    logger.Logger
	sink   Sink
	policy Policy

	mu     sync.RWMutex
	lights map[string]*lightState

	now      func() time.Time
	spawn    func(func())
	inflight sync.WaitGroup
}

// New конструктор.
func New(log logger.Logger, sink Sink, policy Policy) *Scheduler {
	def := DefaultPolicy()
	if policy.Tick <= 0 {
		policy.Tick = def.Tick
	}
	if policy.SendTimeout <= 0 {
		policy.SendTimeout = def.SendTimeout
	}
	return &Scheduler{
		log:    log,
		sink:   sink,
		policy: policy,
		lights: make(map[string]*lightState),
		now:    time.Now,
		spawn:  func(f func()) { go f() },
	}
}

// Policy returns the active policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Submit replaces the light's pending target. It never blocks on a send.
func (s *Scheduler) Submit(lightID string, rgb color.RGB) {
	l := s.light(lightID)

	l.mu.Lock()
	l.pending = rgb
	l.hasPending = true
	if l.phase == phaseIdle {
		l.phase = phasePending
	}
	l.mu.Unlock()
}

// Run drives Tick until ctx is done. Sends already in flight are left to finish.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.policy.Tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(s.now())
		}
	}
}

// Tick evaluates every light once.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.RLock()
	lights := make([]*lightState, 0, len(s.lights))
	for _, l := range s.lights {
		lights = append(lights, l)
	}
	s.mu.RUnlock()

	for _, l := range lights {
		s.evaluate(l, now)
	}
}

func (s *Scheduler) evaluate(l *lightState, now time.Time) {
	l.mu.Lock()
	if l.removed || l.phase != phasePending {
		l.mu.Unlock()
		return
	}

	if l.hasSent && l.pending.MaxDelta(l.lastSent) < s.policy.Threshold {
		l.hasPending = false
		l.phase = phaseIdle
		l.mu.Unlock()
		metrics.IncSuppressed()
		return
	}

	if !l.lastAttempt.IsZero() && now.Sub(l.lastAttempt) < s.policy.MinInterval {
		l.mu.Unlock()
		metrics.IncDeferred()
		return
	}

	target := l.pending
	l.hasPending = false
	l.phase = phaseSending
	l.lastAttempt = now
	l.mu.Unlock()

	s.inflight.Add(1)
	s.spawn(func() {
		defer s.inflight.Done()
		s.send(l, target)
	})
}

func (s *Scheduler) send(l *lightState, target color.RGB) {
	ctx, cancel := context.WithTimeout(context.Background(), s.policy.SendTimeout)
	defer cancel()

	start := time.Now()
	err := s.sink.Send(ctx, l.id, target, s.policy.Fade)
	elapsed := time.Since(start)

	l.mu.Lock()
	recovered := err == nil && l.failures > 0 && l.lastErr != ""
	firstFailure := err != nil && l.lastErr == ""
	if err == nil {
		l.lastSent = target
		l.hasSent = true
		l.lastSentTime = s.now()
		l.sends++
		l.lastErr = ""
	} else {
		l.failures++
		l.lastErr = err.Error()
		if !l.hasPending {
			l.pending = target
			l.hasPending = true
		}
	}
	if l.removed {
		l.hasPending = false
	}
	if l.hasPending {
		l.phase = phasePending
	} else {
		l.phase = phaseIdle
	}
	l.mu.Unlock()

	log := s.log.With(logger.Fields{"module": "dispatch", "light": l.id})
	switch {
	case err == nil:
		metrics.ObserveSend(metrics.SendSuccess, elapsed)
		if recovered {
			log.Info("light reachable again")
		}
	case ctx.Err() != nil:
		metrics.ObserveSend(metrics.SendTimeout, elapsed)
		if firstFailure {
			log.Warnf("send timed out after %v", elapsed)
		}
	default:
		metrics.ObserveSend(metrics.SendError, elapsed)
		if firstFailure {
			log.Warnf("send failed: %v", err)
		} else {
			log.Debugf("send failed: %v", err)
		}
	}
}

// Wait blocks until every in-flight send has returned.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Prune forgets lights for which keep returns false.
func (s *Scheduler) Prune(keep func(lightID string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, l := range s.lights {
		if keep(id) {
			continue
		}
		l.mu.Lock()
		l.removed = true
		l.hasPending = false
		if l.phase == phasePending {
			l.phase = phaseIdle
		}
		l.mu.Unlock()
		delete(s.lights, id)
	}
}

// Lights returns a copy of every light's output state, ordered by id.
func (s *Scheduler) Lights() []LightStatus {
	s.mu.RLock()
	lights := make([]*lightState, 0, len(s.lights))
	for _, l := range s.lights {
		lights = append(lights, l)
	}
	s.mu.RUnlock()

	out := make([]LightStatus, 0, len(lights))
	for _, l := range lights {
		out = append(out, l.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LightID < out[j].LightID })
	return out
}

// Light returns the output state of one light.
func (s *Scheduler) Light(lightID string) (LightStatus, bool) {
	s.mu.RLock()
	l, ok := s.lights[lightID]
	s.mu.RUnlock()
	if !ok {
		return LightStatus{}, false
	}
	return l.status(), true
}

func (l *lightState) status() LightStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := LightStatus{
		LightID:      l.id,
		State:        l.phase.String(),
		LastSentTime: l.lastSentTime,
		Sends:        l.sends,
		Failures:     l.failures,
		LastError:    l.lastErr,
	}
	if l.hasPending {
		p := l.pending
		st.Pending = &p
	}
	if l.hasSent {
		v := l.lastSent
		st.LastSent = &v
	}
	return st
}

func (s *Scheduler) light(id string) *lightState {
	s.mu.RLock()
	l, ok := s.lights[id]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.lights[id]; ok {
		return l
	}
	l = &lightState{id: id}
	s.lights[id] = l
	return l
}
