package latest

import (
	"sort"
	"sync"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

// Store keeps the most recent snapshot per instrument. Entries are never removed.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]models.Snapshot
}

func NewStore() *Store {
	return &Store{snapshots: make(map[string]models.Snapshot)}
}

// Set overwrites unconditionally; the last call wins
func (s *Store) Set(snap models.Snapshot) {
	s.mu.Lock()
	s.snapshots[snap.Instrument] = snap
	s.mu.Unlock()
}

// GetAll returns a copy that the caller may iterate without holding any lock
func (s *Store) GetAll() map[string]models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.Snapshot, len(s.snapshots))
	for k, v := range s.snapshots {
		out[k] = v
	}
	return out
}

// List is GetAll ordered by instrument
func (s *Store) List() []models.Snapshot {
	all := s.GetAll()
	out := make([]models.Snapshot, 0, len(all))
	for _, snap := range all {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Warm seeds instruments that have not been set yet, so a live value is never replaced by a restored one
func (s *Store) Warm(snaps []models.Snapshot) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, snap := range snaps {
		if snap.Instrument == "" {
			continue
		}
		if _, ok := s.snapshots[snap.Instrument]; ok {
			continue
		}
		s.snapshots[snap.Instrument] = snap
		n++
	}
	return n
}
