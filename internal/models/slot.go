package models

import (
	"errors"
	"fmt"
)

// ErrInvalidSlot is returned for any slot name outside the fixed catalog.
var ErrInvalidSlot = errors.New("invalid slot")

// SlotName identifies one of the fixed video/audio sources.
type SlotName string

const (
	SlotBoard   SlotName = "board"
	SlotGM      SlotName = "gm"
	SlotPlayer1 SlotName = "player_1"
	SlotPlayer2 SlotName = "player_2"
	SlotPlayer3 SlotName = "player_3"
	SlotPlayer4 SlotName = "player_4"
	SlotPlayer5 SlotName = "player_5"
)

// Slots is the complete, ordered catalog. It never changes at runtime.
var Slots = []SlotName{
	SlotBoard,
	SlotGM,
	SlotPlayer1,
	SlotPlayer2,
	SlotPlayer3,
	SlotPlayer4,
	SlotPlayer5,
}

// ParseSlot validates name against the catalog.
func ParseSlot(name string) (SlotName, error) {
	for _, slot := range Slots {
		if string(slot) == name {
			return slot, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSlot, name)
}

// ConnectionStatus is the lifecycle state of a slot's peer connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// Slot is the registry record for one source.
type Slot struct {
	Name      SlotName         `json:"name"`
	Connected ConnectionStatus `json:"connected"`
	IsBoard   bool             `json:"is_board"`
}

// StateSnapshot is a point-in-time copy of every slot, keyed by name.
type StateSnapshot struct {
	Streams map[SlotName]Slot `json:"streams"`
}

// Status returns the recorded status of slot, or disconnected when the
// snapshot does not contain it.
func (s StateSnapshot) Status(slot SlotName) ConnectionStatus {
	if rec, ok := s.Streams[slot]; ok {
		return rec.Connected
	}
	return StatusDisconnected
}

// SessionDescription is an SDP offer or answer as exchanged with clients.
type SessionDescription struct {
	Type string `json:"type" binding:"required"`
	SDP  string `json:"sdp" binding:"required"`
}

// CandidateRecord is one ICE candidate in the browser's JSON shape. An empty
// Candidate line marks the end of candidates.
type CandidateRecord struct {
	Candidate     string `json:"candidate"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	SDPMid        string `json:"sdpMid"`
}
