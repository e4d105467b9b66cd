// Package registry holds the fixed catalog of slots and their connection
// status. It is the single source of truth for what is connected.
package registry

import (
	"fmt"
	"sync"

	"github.com/mossy-p/conference-signaling/internal/metrics"
	"github.com/mossy-p/conference-signaling/internal/models"
)

// updateQueueSize bounds the snapshot queue consumed by the broadcast hub.
// When it is full new snapshots are dropped; the heartbeat catches up.
const updateQueueSize = 64

// Registry owns one Slot record per catalog entry for the process lifetime.
type Registry struct {
	mu      sync.RWMutex
	slots   map[models.SlotName]*models.Slot
	updates chan models.StateSnapshot
}

// New creates a registry with every slot disconnected.
func New() *Registry {
	r := &Registry{
		slots:   make(map[models.SlotName]*models.Slot, len(models.Slots)),
		updates: make(chan models.StateSnapshot, updateQueueSize),
	}
	for _, name := range models.Slots {
		r.slots[name] = &models.Slot{
			Name:      name,
			Connected: models.StatusDisconnected,
			IsBoard:   name == models.SlotBoard,
		}
		recordStatus(name, models.StatusDisconnected)
	}
	return r
}

// Snapshot returns a copy of all slot records.
func (r *Registry) Snapshot() models.StateSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() models.StateSnapshot {
	streams := make(map[models.SlotName]models.Slot, len(r.slots))
	for name, slot := range r.slots {
		streams[name] = *slot
	}
	return models.StateSnapshot{Streams: streams}
}

// Status returns the current status of slot.
func (r *Registry) Status(slot models.SlotName) (models.ConnectionStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.slots[slot]
	if !ok {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidSlot, slot)
	}
	return rec.Connected, nil
}

// SetStatus records a new status for slot. Concurrent writers for the same
// slot are last-write-wins. It reports whether the status changed; only
// changes are queued for broadcast.
func (r *Registry) SetStatus(slot models.SlotName, status models.ConnectionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.slots[slot]
	if !ok {
		return false, fmt.Errorf("%w: %q", models.ErrInvalidSlot, slot)
	}
	if rec.Connected == status {
		return false, nil
	}
	rec.Connected = status
	recordStatus(slot, status)

	select {
	case r.updates <- r.snapshotLocked():
	default:
	}
	return true, nil
}

// Updates delivers a snapshot after every status change.
func (r *Registry) Updates() <-chan models.StateSnapshot {
	return r.updates
}

func recordStatus(slot models.SlotName, status models.ConnectionStatus) {
	for _, s := range []models.ConnectionStatus{models.StatusDisconnected, models.StatusConnecting, models.StatusConnected} {
		value := 0.0
		if s == status {
			value = 1
		}
		metrics.SlotStatus.WithLabelValues(string(slot), string(s)).Set(value)
	}
}
