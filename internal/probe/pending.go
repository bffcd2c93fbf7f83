package probe

import (
	"sync"

	"github.com/ethereum/go-ethereum/common/mclock"
)

// PendingProbe is a probe that has been sent and is waiting for confirmation.
type PendingProbe struct {
	ID       string
	SlotSent uint64
	SendTime mclock.AbsTime
	Fee      uint64
}

// PendingSet tracks in-flight probes by id.
type PendingSet struct {
	mu     sync.RWMutex
	probes map[string]PendingProbe
}

// NewPendingSet creates an empty set.
func NewPendingSet() *PendingSet {
	return &PendingSet{probes: make(map[string]PendingProbe)}
}

// Add records p, replacing any entry with the same id.
func (s *PendingSet) Add(p PendingProbe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[p.ID] = p
}

// Get returns the probe with the given id.
func (s *PendingSet) Get(id string) (PendingProbe, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.probes[id]
	return p, ok
}

// Remove deletes the probe and reports whether it was present.
func (s *PendingSet) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.probes[id]
	delete(s.probes, id)
	return ok
}

// Len returns the number of in-flight probes.
func (s *PendingSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.probes)
}
