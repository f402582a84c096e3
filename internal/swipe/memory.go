package swipe

import (
	"context"
	"sync"
)

// MemoryStore is a Store kept in process memory. It backs the memory
// backend and the engine tests.
type MemoryStore struct {
	mu        sync.RWMutex
	decisions map[[2]string]Decision
	matches   map[Pair]Match
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		decisions: make(map[[2]string]Decision),
		matches:   make(map[Pair]Match),
	}
}

func (s *MemoryStore) UpsertDecision(_ context.Context, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[[2]string{d.SourcePetID, d.TargetPetID}] = d
	return nil
}

func (s *MemoryStore) GetDecision(_ context.Context, sourcePetID, targetPetID string) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[[2]string{sourcePetID, targetPetID}]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *MemoryStore) CreateMatch(_ context.Context, m Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[m.Pair()]; ok {
		return ErrMatchExists
	}
	s.matches[m.Pair()] = m
	return nil
}

func (s *MemoryStore) GetMatch(_ context.Context, pair Pair) (*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[pair]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// DecisionCount returns the number of stored decisions.
func (s *MemoryStore) DecisionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.decisions)
}

// MatchCount returns the number of stored matches.
func (s *MemoryStore) MatchCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}
