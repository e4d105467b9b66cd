// Package session owns the peer-connection engine handle for each slot and
// turns engine callbacks into registry, candidate-store and frame-sink
// updates.
package session

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/conference-signaling/internal/models"
)

// Track is an inbound media track. *webrtc.TrackRemote satisfies it.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Engine is one peer connection as seen by the coordinator.
type Engine interface {
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// AddICECandidate injects a remote candidate. An empty Candidate line
	// signals end-of-candidates.
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// Observer receives engine lifecycle callbacks for a single slot. Callbacks
// arrive on engine goroutines, possibly out of order with requests.
type Observer interface {
	OnConnectionStateChange(slot models.SlotName, state webrtc.PeerConnectionState)
	// OnICECandidate is called with nil once gathering completes.
	OnICECandidate(slot models.SlotName, candidate *webrtc.ICECandidateInit)
	OnTrack(slot models.SlotName, track Track)
}

// EngineFactory builds a fresh engine wired to observer.
type EngineFactory interface {
	NewEngine(slot models.SlotName, observer Observer) (Engine, error)
}

// FrameSink consumes decoded video for display.
type FrameSink interface {
	DeliverTrack(slot models.SlotName, track Track)
	Release(slot models.SlotName)
}

// SessionError reports an engine failure while creating, using or
// destroying a session.
type SessionError struct {
	Slot models.SlotName
	Op   string
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s for %s: %v", e.Op, e.Slot, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
