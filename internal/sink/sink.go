// Package sink consumes inbound video tracks on behalf of the display. It
// reads RTP from each slot's current track and keeps per-slot frame
// counters; decoding and rendering happen elsewhere.
package sink

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mossy-p/conference-signaling/internal/metrics"
	"github.com/mossy-p/conference-signaling/internal/models"
	"github.com/mossy-p/conference-signaling/internal/session"
)

var _ session.FrameSink = (*Sink)(nil)

// Stats describes the video currently attached to a slot.
type Stats struct {
	TrackID    string    `json:"track_id"`
	Packets    uint64    `json:"packets"`
	Frames     uint64    `json:"frames"`
	LastPacket time.Time `json:"last_packet"`
}

type feed struct {
	track session.Track
	stats Stats
}

// Sink holds at most one video feed per slot.
type Sink struct {
	logger zerolog.Logger

	mu    sync.Mutex
	feeds map[models.SlotName]*feed
}

func New(logger zerolog.Logger) *Sink {
	return &Sink{
		logger: logger.With().Str("component", "sink").Logger(),
		feeds:  make(map[models.SlotName]*feed),
	}
}

// DeliverTrack attaches track to slot, replacing any previous feed, and
// starts reading it.
func (s *Sink) DeliverTrack(slot models.SlotName, track session.Track) {
	f := &feed{track: track, stats: Stats{TrackID: track.ID()}}

	s.mu.Lock()
	s.feeds[slot] = f
	s.mu.Unlock()

	s.logger.Info().Str("slot", string(slot)).Str("track", track.ID()).Msg("video track attached")
	go s.read(slot, f)
}

// Release detaches slot's feed. The reader stops at its next packet or
// when the track ends.
func (s *Sink) Release(slot models.SlotName) {
	s.mu.Lock()
	_, ok := s.feeds[slot]
	delete(s.feeds, slot)
	s.mu.Unlock()

	if ok {
		s.logger.Info().Str("slot", string(slot)).Msg("video track released")
	}
}

// ActiveSlots lists slots with an attached feed, in catalog order.
func (s *Sink) ActiveSlots() []models.SlotName {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.SlotName, 0, len(s.feeds))
	for _, slot := range models.Slots {
		if _, ok := s.feeds[slot]; ok {
			out = append(out, slot)
		}
	}
	return out
}

// Stats returns the counters of slot's current feed.
func (s *Sink) Stats(slot models.SlotName) (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feeds[slot]
	if !ok {
		return Stats{}, false
	}
	return f.stats, true
}

func (s *Sink) read(slot models.SlotName, f *feed) {
	log := s.logger.With().Str("slot", string(slot)).Str("track", f.track.ID()).Logger()

	for {
		pkt, _, err := f.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("track read ended")
			}
			s.detach(slot, f)
			return
		}

		s.mu.Lock()
		if s.feeds[slot] != f {
			s.mu.Unlock()
			return
		}
		f.stats.Packets++
		f.stats.LastPacket = time.Now()
		if pkt.Marker {
			f.stats.Frames++
		}
		first := f.stats.Frames == 1 && pkt.Marker
		s.mu.Unlock()

		metrics.VideoPackets.WithLabelValues(string(slot)).Inc()
		if pkt.Marker {
			metrics.VideoFrames.WithLabelValues(string(slot)).Inc()
		}
		if first {
			log.Info().Msg("first video frame")
		}
	}
}

// detach removes f if it is still slot's current feed.
func (s *Sink) detach(slot models.SlotName, f *feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feeds[slot] == f {
		delete(s.feeds, slot)
	}
}
