// Package hub fans state snapshots out to push-channel subscribers, on
// every registry change and on a fixed heartbeat.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mossy-p/conference-signaling/internal/metrics"
	"github.com/mossy-p/conference-signaling/internal/models"
)

// DefaultInterval is the heartbeat period.
const DefaultInterval = 2 * time.Second

// mirrorTimeout bounds a single mirror write so a slow backend cannot stall
// the heartbeat.
const mirrorTimeout = 500 * time.Millisecond

// Subscriber receives encoded state_update messages. Send must not block;
// a returned error removes the subscriber.
type Subscriber interface {
	Send(payload []byte) error
}

// Mirror copies every published payload to an external store.
type Mirror interface {
	MirrorState(ctx context.Context, payload []byte) error
}

// Source provides snapshots and the queue of change notifications.
type Source interface {
	Snapshot() models.StateSnapshot
	Updates() <-chan models.StateSnapshot
}

type Hub struct {
	source   Source
	interval time.Duration
	mirrors  []Mirror
	logger   zerolog.Logger

	mu          sync.RWMutex
	subscribers map[string]Subscriber
}

// New creates a hub. A non-positive interval selects DefaultInterval.
func New(source Source, interval time.Duration, logger zerolog.Logger, mirrors ...Mirror) *Hub {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Hub{
		source:      source,
		interval:    interval,
		mirrors:     mirrors,
		logger:      logger.With().Str("component", "hub").Logger(),
		subscribers: make(map[string]Subscriber),
	}
}

// Subscribe adds sub to the live set and returns its handle.
func (h *Hub) Subscribe(sub Subscriber) string {
	id := uuid.NewString()

	h.mu.Lock()
	h.subscribers[id] = sub
	n := len(h.subscribers)
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(n))
	h.logger.Info().Str("subscriber", id).Int("total", n).Msg("subscribed")
	return id
}

// Unsubscribe removes the handle. Unknown handles are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	_, ok := h.subscribers[id]
	delete(h.subscribers, id)
	n := len(h.subscribers)
	h.mu.Unlock()

	if ok {
		metrics.Subscribers.Set(float64(n))
		h.logger.Info().Str("subscriber", id).Int("total", n).Msg("unsubscribed")
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish delivers snapshot to every live subscriber once. Subscribers
// whose Send fails are dropped; there is no retry.
func (h *Hub) Publish(snapshot models.StateSnapshot) {
	h.publish(context.Background(), snapshot, "request")
}

func (h *Hub) publish(ctx context.Context, snapshot models.StateSnapshot, trigger string) {
	payload, err := json.Marshal(models.NewStateUpdate(snapshot))
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal state update")
		return
	}
	metrics.Broadcasts.WithLabelValues(trigger).Inc()

	// Iterate over a stable copy so Subscribe and Unsubscribe can run
	// concurrently with delivery.
	h.mu.RLock()
	live := make(map[string]Subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		live[id] = sub
	}
	h.mu.RUnlock()

	for id, sub := range live {
		if err := sub.Send(payload); err != nil {
			h.logger.Warn().Err(err).Str("subscriber", id).Msg("delivery failed, dropping subscriber")
			metrics.SubscribersDropped.Inc()
			h.Unsubscribe(id)
		}
	}

	for _, m := range h.mirrors {
		mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		if err := m.MirrorState(mctx, payload); err != nil {
			h.logger.Warn().Err(err).Msg("mirror state")
		}
		cancel()
	}
}

// Run publishes on every source update and on each heartbeat tick until
// ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	updates := h.source.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-updates:
			h.publish(ctx, snapshot, "change")
		case <-ticker.C:
			h.publish(ctx, h.source.Snapshot(), "heartbeat")
		}
	}
}
