// Package conference drives the offer/answer/candidate exchange for each
// slot and keeps the registry consistent with the live sessions.
package conference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/mossy-p/conference-signaling/internal/candidates"
	"github.com/mossy-p/conference-signaling/internal/hub"
	"github.com/mossy-p/conference-signaling/internal/metrics"
	"github.com/mossy-p/conference-signaling/internal/models"
	"github.com/mossy-p/conference-signaling/internal/registry"
	"github.com/mossy-p/conference-signaling/internal/session"
)

// ErrNoActiveSession is returned when an operation needs a live session for
// a slot that has none.
var ErrNoActiveSession = errors.New("no active session")

// TrackLister is implemented by frame sinks that can report which slots
// currently have video.
type TrackLister interface {
	ActiveSlots() []models.SlotName
}

// Options configures a Coordinator.
type Options struct {
	Factory           session.EngineFactory
	Sink              session.FrameSink
	HeartbeatInterval time.Duration
	Mirrors           []hub.Mirror
	Logger            zerolog.Logger
}

// Coordinator is the single owner of slot state. Construct it with New,
// call Start once, and Shutdown on exit.
type Coordinator struct {
	registry   *registry.Registry
	candidates *candidates.Store
	sessions   *session.Manager
	hub        *hub.Hub
	sink       session.FrameSink
	logger     zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Coordinator {
	reg := registry.New()
	store := candidates.New()
	return &Coordinator{
		registry:   reg,
		candidates: store,
		sessions:   session.NewManager(opts.Factory, reg, store, opts.Sink, opts.Logger),
		hub:        hub.New(reg, opts.HeartbeatInterval, opts.Logger, opts.Mirrors...),
		sink:       opts.Sink,
		logger:     opts.Logger.With().Str("component", "coordinator").Logger(),
	}
}

// Start launches the engine event loop and the broadcast heartbeat.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.sessions.Run(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.hub.Run(ctx)
	}()
	c.logger.Info().Msg("coordinator started")
}

// Shutdown closes every connection and stops the background loops.
func (c *Coordinator) Shutdown() {
	c.CloseAll()
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info().Msg("coordinator stopped")
}

// Hub exposes the broadcast hub for transport subscriptions.
func (c *Coordinator) Hub() *hub.Hub {
	return c.hub
}

// State returns the current snapshot of every slot.
func (c *Coordinator) State() models.StateSnapshot {
	return c.registry.Snapshot()
}

// RequestConnection tears down any existing session for slot, moves it to
// connecting and returns a fresh offer. The most recent request always
// wins; there is no "already connecting" rejection.
func (c *Coordinator) RequestConnection(ctx context.Context, slot models.SlotName) (models.SessionDescription, error) {
	unlock, err := c.sessions.Lock(slot)
	if err != nil {
		return models.SessionDescription{}, err
	}
	defer unlock()

	log := c.logger.With().Str("slot", string(slot)).Logger()

	status, _ := c.registry.Status(slot)
	if _, ok := c.sessions.Get(slot); ok || status != models.StatusDisconnected {
		log.Info().Str("status", string(status)).Msg("pre-empting existing connection")
		c.teardownLocked(slot, log)
	}

	c.setStatus(slot, models.StatusConnecting, log)

	s, err := c.sessions.Create(slot)
	if err != nil {
		c.setStatus(slot, models.StatusDisconnected, log)
		log.Error().Err(err).Msg("create session")
		return models.SessionDescription{}, err
	}

	offer, err := s.Engine().CreateOffer()
	if err != nil {
		c.teardownLocked(slot, log)
		metrics.SessionErrors.WithLabelValues(string(slot), "offer").Inc()
		log.Error().Err(err).Msg("create offer")
		return models.SessionDescription{}, &session.SessionError{Slot: slot, Op: "offer", Err: err}
	}

	log.Info().Str("session", s.ID).Msg("offer created")
	return models.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// ApplyAnswer sets answer as the remote description of slot's session.
// The slot only becomes connected once the engine reports it.
func (c *Coordinator) ApplyAnswer(ctx context.Context, slot models.SlotName, answer models.SessionDescription) error {
	unlock, err := c.sessions.Lock(slot)
	if err != nil {
		return err
	}
	defer unlock()

	s, ok := c.sessions.Get(slot)
	if !ok {
		return fmt.Errorf("%w for %s", ErrNoActiveSession, slot)
	}

	desc := webrtc.SessionDescription{Type: webrtc.NewSDPType(answer.Type), SDP: answer.SDP}
	if err := s.Engine().SetRemoteDescription(desc); err != nil {
		metrics.SessionErrors.WithLabelValues(string(slot), "answer").Inc()
		return &session.SessionError{Slot: slot, Op: "answer", Err: err}
	}

	c.logger.Info().Str("slot", string(slot)).Str("session", s.ID).Msg("answer applied")
	return nil
}

// CloseConnection destroys slot's session and marks it disconnected. It
// always succeeds and is a no-op for idle or unknown slots.
func (c *Coordinator) CloseConnection(slot models.SlotName) {
	unlock, err := c.sessions.Lock(slot)
	if err != nil {
		c.logger.Debug().Err(err).Msg("close ignored")
		return
	}
	defer unlock()

	c.teardownLocked(slot, c.logger.With().Str("slot", string(slot)).Logger())
}

// CloseAll closes every slot.
func (c *Coordinator) CloseAll() {
	for _, slot := range models.Slots {
		c.CloseConnection(slot)
	}
	c.logger.Info().Msg("all connections closed")
}

// AddCandidate injects a remote candidate into slot's session. Malformed
// candidates and engine rejections are logged and dropped; only a missing
// session or unknown slot is reported.
func (c *Coordinator) AddCandidate(ctx context.Context, slot models.SlotName, rec models.CandidateRecord) error {
	unlock, err := c.sessions.Lock(slot)
	if err != nil {
		return err
	}
	defer unlock()

	s, ok := c.sessions.Get(slot)
	if !ok {
		return fmt.Errorf("%w for %s", ErrNoActiveSession, slot)
	}
	log := c.logger.With().Str("slot", string(slot)).Str("session", s.ID).Logger()

	candidate, err := ParseCandidate(rec)
	if err != nil {
		metrics.CandidatesDropped.WithLabelValues(string(slot)).Inc()
		log.Warn().Err(err).Str("candidate", rec.Candidate).Msg("dropping remote candidate")
		return nil
	}

	init := webrtc.ICECandidateInit{Candidate: ""}
	if candidate != nil {
		init = candidate.Init()
	}
	if err := s.Engine().AddICECandidate(init); err != nil {
		metrics.CandidatesDropped.WithLabelValues(string(slot)).Inc()
		log.Warn().Err(err).Str("candidate", rec.Candidate).Msg("engine rejected remote candidate")
		return nil
	}

	if candidate == nil {
		log.Debug().Msg("end of remote candidates")
	} else {
		log.Debug().Str("type", candidate.Type().String()).Str("address", candidate.Address()).Int("port", candidate.Port()).Msg("remote candidate added")
	}
	return nil
}

// ListCandidates returns slot's locally gathered candidates in discovery
// order.
func (c *Coordinator) ListCandidates(slot models.SlotName) []models.CandidateRecord {
	return c.candidates.List(slot)
}

// DisplayStatus reports live sessions, slots with video and per-slot status.
func (c *Coordinator) DisplayStatus() models.DisplayStatus {
	snapshot := c.registry.Snapshot()
	states := make(map[models.SlotName]models.ConnectionStatus, len(snapshot.Streams))
	for name, slot := range snapshot.Streams {
		states[name] = slot.Connected
	}

	tracks := []models.SlotName{}
	if lister, ok := c.sink.(TrackLister); ok {
		tracks = lister.ActiveSlots()
	}

	return models.DisplayStatus{
		ActiveConnections: c.sessions.ActiveSlots(),
		VideoTracks:       tracks,
		ConnectionStates:  states,
	}
}

// teardownLocked destroys the session and forces disconnected. The caller
// holds slot's lock.
func (c *Coordinator) teardownLocked(slot models.SlotName, log zerolog.Logger) {
	if err := c.sessions.Destroy(slot); err != nil {
		log.Warn().Err(err).Msg("destroy session")
	}
	c.setStatus(slot, models.StatusDisconnected, log)
}

func (c *Coordinator) setStatus(slot models.SlotName, status models.ConnectionStatus, log zerolog.Logger) {
	if _, err := c.registry.SetStatus(slot, status); err != nil {
		log.Error().Err(err).Msg("set status")
	}
}
