package models

// PushType is the type of a message on the push channel.
type PushType string

const (
	PushTypeStateUpdate  PushType = "state_update"
	PushTypePing         PushType = "ping"
	PushTypePong         PushType = "pong"
	PushTypeRequestState PushType = "request_state"
	PushTypeError        PushType = "error"
)

// PushMessage is the envelope for every push-channel frame in both
// directions.
type PushMessage struct {
	Type  PushType       `json:"type"`
	State *StateSnapshot `json:"state,omitempty"`
	Error string         `json:"error,omitempty"`
}

// NewStateUpdate wraps a snapshot for delivery to subscribers.
func NewStateUpdate(snapshot StateSnapshot) PushMessage {
	return PushMessage{Type: PushTypeStateUpdate, State: &snapshot}
}

// OfferResponse is returned by the request_connection endpoint.
type OfferResponse struct {
	OfferSDP SessionDescription `json:"offer_sdp"`
}

// StatusResponse is the generic acknowledgement body.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// CandidatesResponse is returned by the candidate listing endpoint.
type CandidatesResponse struct {
	Status     string            `json:"status"`
	Candidates []CandidateRecord `json:"candidates"`
}

// DisplayStatus reports which slots hold sessions and which have a live
// video track in the frame sink.
type DisplayStatus struct {
	ActiveConnections []SlotName                    `json:"active_connections"`
	VideoTracks       []SlotName                    `json:"video_tracks"`
	ConnectionStates  map[SlotName]ConnectionStatus `json:"connection_states"`
}
