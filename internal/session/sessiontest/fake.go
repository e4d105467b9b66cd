// Package sessiontest provides in-memory engines, tracks and frame sinks
// for exercising the coordinator without real peer connections.
package sessiontest

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/conference-signaling/internal/models"
	"github.com/mossy-p/conference-signaling/internal/session"
)

// Compile-time interface checks.
var (
	_ session.EngineFactory = (*Factory)(nil)
	_ session.Engine        = (*Engine)(nil)
	_ session.FrameSink     = (*Sink)(nil)
	_ session.Track         = (*Track)(nil)
)

// Factory records every engine it creates.
type Factory struct {
	mu      sync.Mutex
	engines []*Engine

	// CreateErr, when set, makes NewEngine fail.
	CreateErr error
	// OfferErr is copied into every new engine.
	OfferErr error
}

func (f *Factory) NewEngine(slot models.SlotName, observer session.Observer) (session.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	e := &Engine{Slot: slot, observer: observer, offerErr: f.OfferErr}
	f.engines = append(f.engines, e)
	return e, nil
}

// Engines returns all engines created for slot, oldest first.
func (f *Factory) Engines(slot models.SlotName) []*Engine {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*Engine
	for _, e := range f.engines {
		if e.Slot == slot {
			out = append(out, e)
		}
	}
	return out
}

// Latest returns the newest engine for slot, or nil.
func (f *Factory) Latest(slot models.SlotName) *Engine {
	engines := f.Engines(slot)
	if len(engines) == 0 {
		return nil
	}
	return engines[len(engines)-1]
}

// Engine is a scripted peer connection.
type Engine struct {
	Slot models.SlotName

	observer session.Observer
	offerErr error

	mu         sync.Mutex
	offers     int
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     int
}

func (e *Engine) CreateOffer() (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.offerErr != nil {
		return webrtc.SessionDescription{}, e.offerErr
	}
	e.offers++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("v=0\r\ns=%s-%d\r\n", e.Slot, e.offers),
	}, nil
}

func (e *Engine) SetRemoteDescription(desc webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if desc.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("unexpected description type %s", desc.Type)
	}
	e.remote = &desc
	return nil
}

func (e *Engine) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, candidate)
	return nil
}

// Close mirrors a real peer connection by reporting the closed state to
// its observer.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()

	e.observer.OnConnectionStateChange(e.Slot, webrtc.PeerConnectionStateClosed)
	return nil
}

// Remote returns the applied remote description, if any.
func (e *Engine) Remote() *webrtc.SessionDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

// Candidates returns the injected remote candidates.
func (e *Engine) Candidates() []webrtc.ICECandidateInit {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(e.candidates))
	copy(out, e.candidates)
	return out
}

// Closed reports how many times Close was called.
func (e *Engine) Closed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// FireState simulates a connection-state callback.
func (e *Engine) FireState(state webrtc.PeerConnectionState) {
	e.observer.OnConnectionStateChange(e.Slot, state)
}

// FireCandidate simulates local candidate discovery. An empty line
// simulates the end of gathering.
func (e *Engine) FireCandidate(line, mid string, index uint16) {
	if line == "" {
		e.observer.OnICECandidate(e.Slot, nil)
		return
	}
	e.observer.OnICECandidate(e.Slot, &webrtc.ICECandidateInit{
		Candidate:     line,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	})
}

// FireTrack simulates an inbound track.
func (e *Engine) FireTrack(track session.Track) {
	e.observer.OnTrack(e.Slot, track)
}

// Track is an inbound track fed from a channel of packets. Closing the
// track makes ReadRTP return io.EOF.
type Track struct {
	TrackID   string
	TrackKind webrtc.RTPCodecType

	once    sync.Once
	packets chan *rtp.Packet
}

// NewTrack creates a track with room for buffer queued packets.
func NewTrack(id string, kind webrtc.RTPCodecType, buffer int) *Track {
	return &Track{TrackID: id, TrackKind: kind, packets: make(chan *rtp.Packet, buffer)}
}

func (t *Track) ID() string                { return t.TrackID }
func (t *Track) Kind() webrtc.RTPCodecType { return t.TrackKind }

func (t *Track) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-t.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, interceptor.Attributes{}, nil
}

// Push queues a packet for the reader.
func (t *Track) Push(pkt *rtp.Packet) {
	t.packets <- pkt
}

// Close ends the track.
func (t *Track) Close() {
	t.once.Do(func() { close(t.packets) })
}

// Sink records frame sink calls.
type Sink struct {
	mu        sync.Mutex
	delivered map[models.SlotName][]session.Track
	released  map[models.SlotName]int
}

func NewSink() *Sink {
	return &Sink{
		delivered: make(map[models.SlotName][]session.Track),
		released:  make(map[models.SlotName]int),
	}
}

func (s *Sink) DeliverTrack(slot models.SlotName, track session.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[slot] = append(s.delivered[slot], track)
}

func (s *Sink) Release(slot models.SlotName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released[slot]++
}

// Delivered returns the tracks handed over for slot.
func (s *Sink) Delivered(slot models.SlotName) []session.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.Track(nil), s.delivered[slot]...)
}

// Released reports how many times slot was released.
func (s *Sink) Released(slot models.SlotName) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released[slot]
}

// ErrEngine is a canned engine failure.
var ErrEngine = errors.New("engine failure")
