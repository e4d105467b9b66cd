// Package candidates keeps the locally gathered ICE candidates for each slot
// until a client polls for them.
package candidates

import (
	"sync"

	"github.com/mossy-p/conference-signaling/internal/models"
)

// Generation identifies one session's candidate queue. Appends carrying a
// stale generation are discarded, so a late candidate from a torn-down
// session never lands in its successor's queue.
type Generation uint64

type queue struct {
	generation Generation
	records    []models.CandidateRecord
}

// Store is an append-only, per-slot candidate queue.
type Store struct {
	mu     sync.RWMutex
	queues map[models.SlotName]*queue
	next   Generation
}

func New() *Store {
	return &Store{queues: make(map[models.SlotName]*queue)}
}

// Reset clears slot's queue and returns the generation new appends must use.
func (s *Store) Reset(slot models.SlotName) Generation {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	s.queues[slot] = &queue{generation: s.next}
	return s.next
}

// Clear drops slot's queue. Any outstanding generation becomes stale.
func (s *Store) Clear(slot models.SlotName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues, slot)
}

// Append adds rec to slot's queue if gen is still current. It reports
// whether the record was stored.
func (s *Store) Append(slot models.SlotName, gen Generation, rec models.CandidateRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[slot]
	if !ok || q.generation != gen {
		return false
	}
	q.records = append(q.records, rec)
	return true
}

// List returns a copy of slot's queue in discovery order. The result is
// never nil.
func (s *Store) List(slot models.SlotName) []models.CandidateRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.queues[slot]
	if !ok {
		return []models.CandidateRecord{}
	}
	out := make([]models.CandidateRecord, len(q.records))
	copy(out, q.records)
	return out
}
