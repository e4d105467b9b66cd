package conference

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/conference-signaling/internal/models"
)

// ErrMalformedCandidate marks a remote candidate line that cannot be parsed.
// It is logged and swallowed, never returned to callers.
var ErrMalformedCandidate = errors.New("malformed candidate")

// minCandidateFields covers foundation through the candidate type:
// "candidate:<foundation> <component> <protocol> <priority> <ip> <port> typ <type>".
const minCandidateFields = 8

// RemoteCandidate is a parsed candidate line together with its media
// section.
type RemoteCandidate struct {
	ice.Candidate

	SDPMid        string
	SDPMLineIndex uint16

	line string
}

// ParseCandidate validates rec. It returns nil without error for the
// end-of-candidates marker (an empty line).
func ParseCandidate(rec models.CandidateRecord) (*RemoteCandidate, error) {
	line := strings.TrimSpace(rec.Candidate)
	if line == "" {
		return nil, nil
	}
	body, ok := strings.CutPrefix(line, "candidate:")
	if !ok {
		return nil, fmt.Errorf("%w: missing candidate: prefix", ErrMalformedCandidate)
	}
	if n := len(strings.Fields(body)); n < minCandidateFields {
		return nil, fmt.Errorf("%w: %d fields, need %d", ErrMalformedCandidate, n, minCandidateFields)
	}

	parsed, err := ice.UnmarshalCandidate(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCandidate, err)
	}

	index := rec.SDPMLineIndex
	if index < 0 {
		index = 0
	}

	return &RemoteCandidate{
		Candidate:     parsed,
		SDPMid:        rec.SDPMid,
		SDPMLineIndex: uint16(index),
		line:          line,
	}, nil
}

// Init converts the candidate to the form the engine accepts.
func (c *RemoteCandidate) Init() webrtc.ICECandidateInit {
	init := webrtc.ICECandidateInit{
		Candidate:     c.line,
		SDPMLineIndex: &c.SDPMLineIndex,
	}
	if c.SDPMid != "" {
		init.SDPMid = &c.SDPMid
	}
	return init
}
