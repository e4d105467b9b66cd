// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "conference"

var (
	// SlotStatus is 1 for the status a slot is currently in and 0 for the
	// other two.
	SlotStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "slot_status",
		Help:      "Current connection status per slot.",
	}, []string{"slot", "status"})

	SessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Peer sessions created per slot.",
	}, []string{"slot"})

	SessionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_errors_total",
		Help:      "Engine failures per slot and operation.",
	}, []string{"slot", "op"})

	CandidatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "candidates_dropped_total",
		Help:      "Remote candidates dropped as malformed or rejected by the engine.",
	}, []string{"slot"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscribers",
		Help:      "Live push-channel subscribers.",
	})

	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcasts_total",
		Help:      "State snapshots published, by trigger.",
	}, []string{"trigger"})

	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscribers_dropped_total",
		Help:      "Subscribers removed after a failed delivery.",
	})

	VideoPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "video_packets_total",
		Help:      "RTP packets read from inbound video tracks.",
	}, []string{"slot"})

	VideoFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "video_frames_total",
		Help:      "Complete video frames (marker bit set) read from inbound tracks.",
	}, []string{"slot"})
)
