package sink

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/conference-signaling/internal/models"
	"github.com/mossy-p/conference-signaling/internal/session/sessiontest"
)

func packet(seq uint16, marker bool) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: seq, Marker: marker}}
}

func TestDeliverTrack_CountsPacketsAndFrames(t *testing.T) {
	s := New(zerolog.Nop())
	track := sessiontest.NewTrack("cam", webrtc.RTPCodecTypeVideo, 8)
	t.Cleanup(track.Close)

	s.DeliverTrack(models.SlotBoard, track)
	track.Push(packet(1, false))
	track.Push(packet(2, true))
	track.Push(packet(3, false))
	track.Push(packet(4, true))

	require.Eventually(t, func() bool {
		st, ok := s.Stats(models.SlotBoard)
		return ok && st.Packets == 4
	}, time.Second, 5*time.Millisecond)

	st, _ := s.Stats(models.SlotBoard)
	assert.Equal(t, "cam", st.TrackID)
	assert.Equal(t, uint64(2), st.Frames)
	assert.False(t, st.LastPacket.IsZero())
	assert.Equal(t, []models.SlotName{models.SlotBoard}, s.ActiveSlots())
}

func TestRelease_DetachesFeed(t *testing.T) {
	s := New(zerolog.Nop())
	track := sessiontest.NewTrack("cam", webrtc.RTPCodecTypeVideo, 8)
	t.Cleanup(track.Close)

	s.DeliverTrack(models.SlotGM, track)
	s.Release(models.SlotGM)
	s.Release(models.SlotGM)

	_, ok := s.Stats(models.SlotGM)
	assert.False(t, ok)
	assert.Empty(t, s.ActiveSlots())

	// Packets after release are not counted against a new feed.
	track.Push(packet(1, true))
	next := sessiontest.NewTrack("cam2", webrtc.RTPCodecTypeVideo, 1)
	t.Cleanup(next.Close)
	s.DeliverTrack(models.SlotGM, next)
	time.Sleep(20 * time.Millisecond)

	st, ok := s.Stats(models.SlotGM)
	require.True(t, ok)
	assert.Equal(t, "cam2", st.TrackID)
	assert.Zero(t, st.Packets)
}

func TestTrackEnd_DetachesFeed(t *testing.T) {
	s := New(zerolog.Nop())
	track := sessiontest.NewTrack("cam", webrtc.RTPCodecTypeVideo, 1)

	s.DeliverTrack(models.SlotPlayer1, track)
	track.Close()

	require.Eventually(t, func() bool {
		return len(s.ActiveSlots()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestActiveSlots_CatalogOrder(t *testing.T) {
	s := New(zerolog.Nop())
	for _, slot := range []models.SlotName{models.SlotPlayer3, models.SlotBoard, models.SlotGM} {
		track := sessiontest.NewTrack(string(slot), webrtc.RTPCodecTypeVideo, 1)
		t.Cleanup(track.Close)
		s.DeliverTrack(slot, track)
	}

	assert.Equal(t, []models.SlotName{models.SlotBoard, models.SlotGM, models.SlotPlayer3}, s.ActiveSlots())
}
