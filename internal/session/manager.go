package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/mossy-p/conference-signaling/internal/candidates"
	"github.com/mossy-p/conference-signaling/internal/metrics"
	"github.com/mossy-p/conference-signaling/internal/models"
	"github.com/mossy-p/conference-signaling/internal/registry"
)

// eventQueueSize bounds engine events waiting for one slot's loop.
const eventQueueSize = 64

// Session is the live engine handle for one slot.
type Session struct {
	ID        string
	Slot      models.SlotName
	CreatedAt time.Time

	engine     Engine
	generation candidates.Generation

	// detached is set before the engine is closed. Callbacks from a
	// detached session are ignored.
	detached atomic.Bool

	// Guarded by the slot lock.
	video     Track
	suspended bool
}

// Engine returns the underlying peer connection.
func (s *Session) Engine() Engine {
	return s.engine
}

type eventKind int

const (
	eventState eventKind = iota
	eventTrack
)

type event struct {
	kind    eventKind
	session *Session
	state   webrtc.PeerConnectionState
	track   Track
}

// Manager owns at most one Session per slot.
//
// Every method that reads or swaps a slot's session must run under that
// slot's lock (see Lock). Engine state and track callbacks are queued per
// slot and applied by Run under the same lock, so they never interleave
// with a request that is replacing the session. A slow request on one slot
// does not hold up events for the others.
type Manager struct {
	factory    EngineFactory
	registry   *registry.Registry
	candidates *candidates.Store
	sink       FrameSink
	logger     zerolog.Logger

	locks map[models.SlotName]*sync.Mutex

	mu       sync.RWMutex
	sessions map[models.SlotName]*Session

	events map[models.SlotName]chan event
	done   chan struct{}
}

// NewManager wires a manager to its collaborators.
func NewManager(factory EngineFactory, reg *registry.Registry, store *candidates.Store, sink FrameSink, logger zerolog.Logger) *Manager {
	locks := make(map[models.SlotName]*sync.Mutex, len(models.Slots))
	events := make(map[models.SlotName]chan event, len(models.Slots))
	for _, slot := range models.Slots {
		locks[slot] = &sync.Mutex{}
		events[slot] = make(chan event, eventQueueSize)
	}
	return &Manager{
		factory:    factory,
		registry:   reg,
		candidates: store,
		sink:       sink,
		logger:     logger.With().Str("component", "sessions").Logger(),
		locks:      locks,
		sessions:   make(map[models.SlotName]*Session),
		events:     events,
		done:       make(chan struct{}),
	}
}

// Lock acquires slot's lock and returns the matching unlock function.
func (m *Manager) Lock(slot models.SlotName) (func(), error) {
	l, ok := m.locks[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidSlot, slot)
	}
	l.Lock()
	return l.Unlock, nil
}

// Get returns the live session for slot.
func (m *Manager) Get(slot models.SlotName) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[slot]
	return s, ok
}

// ActiveSlots lists slots holding a session, in catalog order.
func (m *Manager) ActiveSlots() []models.SlotName {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.SlotName, 0, len(m.sessions))
	for _, slot := range models.Slots {
		if _, ok := m.sessions[slot]; ok {
			out = append(out, slot)
		}
	}
	return out
}

// Create builds a fresh engine for slot, destroying any existing session
// first. The caller must hold slot's lock. On failure nothing is left
// registered under slot.
func (m *Manager) Create(slot models.SlotName) (*Session, error) {
	if _, ok := m.locks[slot]; !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidSlot, slot)
	}
	if err := m.Destroy(slot); err != nil {
		m.logger.Warn().Err(err).Str("slot", string(slot)).Msg("destroy superseded session")
	}

	s := &Session{
		ID:        uuid.NewString(),
		Slot:      slot,
		CreatedAt: time.Now(),
	}
	s.generation = m.candidates.Reset(slot)

	engine, err := m.factory.NewEngine(slot, &sessionObserver{manager: m, session: s})
	if err != nil {
		s.detached.Store(true)
		m.candidates.Clear(slot)
		metrics.SessionErrors.WithLabelValues(string(slot), "create").Inc()
		return nil, &SessionError{Slot: slot, Op: "create", Err: err}
	}
	s.engine = engine

	m.mu.Lock()
	m.sessions[slot] = s
	m.mu.Unlock()

	metrics.SessionsCreated.WithLabelValues(string(slot)).Inc()
	m.logger.Info().Str("slot", string(slot)).Str("session", s.ID).Msg("session created")
	return s, nil
}

// Destroy closes slot's session, clears its candidates and releases the
// frame sink. It is a no-op when no session exists. The caller must hold
// slot's lock.
func (m *Manager) Destroy(slot models.SlotName) error {
	m.mu.Lock()
	s, ok := m.sessions[slot]
	delete(m.sessions, slot)
	m.mu.Unlock()

	m.candidates.Clear(slot)
	if !ok {
		return nil
	}

	s.detached.Store(true)
	m.sink.Release(slot)

	if err := s.engine.Close(); err != nil {
		metrics.SessionErrors.WithLabelValues(string(slot), "destroy").Inc()
		return &SessionError{Slot: slot, Op: "destroy", Err: err}
	}
	m.logger.Info().Str("slot", string(slot)).Str("session", s.ID).Msg("session destroyed")
	return nil
}

// Run applies queued engine events, one loop per slot, until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)

	var wg sync.WaitGroup
	for _, slot := range models.Slots {
		wg.Add(1)
		go func(events <-chan event) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-events:
					m.handle(ev)
				}
			}
		}(m.events[slot])
	}
	wg.Wait()
}

func (m *Manager) enqueue(ev event) {
	if ev.session.detached.Load() {
		return
	}
	select {
	case m.events[ev.session.Slot] <- ev:
	case <-m.done:
	}
}

func (m *Manager) handle(ev event) {
	slot := ev.session.Slot
	log := m.logger.With().Str("slot", string(slot)).Str("session", ev.session.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("engine event handler panicked")
		}
	}()

	if ev.session.detached.Load() {
		return
	}
	unlock, err := m.Lock(slot)
	if err != nil {
		log.Error().Err(err).Msg("engine event for unknown slot")
		return
	}
	defer unlock()

	if current, ok := m.Get(slot); !ok || current != ev.session {
		return
	}

	switch ev.kind {
	case eventState:
		m.applyState(ev.session, ev.state, log)
	case eventTrack:
		m.applyTrack(ev.session, ev.track, log)
	}
}

func (m *Manager) applyState(s *Session, state webrtc.PeerConnectionState, log zerolog.Logger) {
	slot := s.Slot
	switch state {
	case webrtc.PeerConnectionStateConnected:
		if s.suspended {
			// ICE recovered on the kept engine. Walk the slot through
			// connecting again and reattach its video.
			s.suspended = false
			if _, err := m.registry.SetStatus(slot, models.StatusConnecting); err != nil {
				log.Error().Err(err).Msg("set status")
			}
			if s.video != nil {
				m.sink.DeliverTrack(slot, s.video)
			}
			log.Info().Msg("slot recovered")
		}
		if _, err := m.registry.SetStatus(slot, models.StatusConnected); err != nil {
			log.Error().Err(err).Msg("set status")
		}
		log.Info().Msg("slot connected")

	case webrtc.PeerConnectionStateDisconnected:
		// ICE may still recover, so the engine is kept.
		s.suspended = true
		m.sink.Release(slot)
		if _, err := m.registry.SetStatus(slot, models.StatusDisconnected); err != nil {
			log.Error().Err(err).Msg("set status")
		}
		log.Info().Msg("slot disconnected")

	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		if err := m.Destroy(slot); err != nil {
			log.Warn().Err(err).Msg("destroy terminated session")
		}
		if _, err := m.registry.SetStatus(slot, models.StatusDisconnected); err != nil {
			log.Error().Err(err).Msg("set status")
		}
		log.Info().Str("state", state.String()).Msg("slot terminated")
	}
}

func (m *Manager) applyTrack(s *Session, track Track, log zerolog.Logger) {
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		s.video = track
		m.sink.DeliverTrack(s.Slot, track)
		return
	}
	// Audio is accepted but has no sink. Drain it so the receive buffer
	// does not back up.
	log.Debug().Str("track", track.ID()).Msg("audio track accepted, not forwarded")
	go func() {
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
		}
	}()
}

// sessionObserver binds engine callbacks to one session.
type sessionObserver struct {
	manager *Manager
	session *Session
}

func (o *sessionObserver) OnConnectionStateChange(_ models.SlotName, state webrtc.PeerConnectionState) {
	o.manager.enqueue(event{kind: eventState, session: o.session, state: state})
}

func (o *sessionObserver) OnICECandidate(slot models.SlotName, candidate *webrtc.ICECandidateInit) {
	if candidate == nil {
		o.manager.logger.Debug().Str("slot", string(slot)).Msg("ICE gathering complete")
		return
	}
	if o.session.detached.Load() {
		return
	}
	rec := models.CandidateRecord{Candidate: candidate.Candidate}
	if candidate.SDPMid != nil {
		rec.SDPMid = *candidate.SDPMid
	}
	if candidate.SDPMLineIndex != nil {
		rec.SDPMLineIndex = int(*candidate.SDPMLineIndex)
	}
	o.manager.candidates.Append(slot, o.session.generation, rec)
}

func (o *sessionObserver) OnTrack(_ models.SlotName, track Track) {
	o.manager.enqueue(event{kind: eventTrack, session: o.session, track: track})
}
