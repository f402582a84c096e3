package pet

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore is an in-process Registry and CandidateProvider. Candidates
// come back in insertion order.
type MemoryStore struct {
	mu    sync.RWMutex
	pets  map[string]Pet
	order []string
}

// NewMemoryStore creates a MemoryStore seeded with pets.
func NewMemoryStore(pets ...Pet) *MemoryStore {
	s := &MemoryStore{pets: make(map[string]Pet)}
	for _, p := range pets {
		s.Put(p)
	}
	return s
}

// Put adds or replaces a pet. Replacing keeps the original position.
func (s *MemoryStore) Put(p Pet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pets[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.pets[p.ID] = p
}

func (s *MemoryStore) GetPet(_ context.Context, petID string) (*Pet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pets[petID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) GetOwnerID(ctx context.Context, petID string) (string, error) {
	p, err := s.GetPet(ctx, petID)
	if err != nil {
		return "", err
	}
	return p.OwnerID, nil
}

// FetchCandidates returns every other pet not owned by the swiping pet's
// owner, filtered by species.
func (s *MemoryStore) FetchCandidates(_ context.Context, swipingPetID string, filters Filters) ([]Pet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	swiping, ok := s.pets[swipingPetID]
	if !ok {
		return nil, ErrNotFound
	}

	var out []Pet
	for _, id := range s.order {
		p := s.pets[id]
		if p.ID == swiping.ID || p.OwnerID == swiping.OwnerID {
			continue
		}
		if len(filters.Species) > 0 && !slices.Contains(filters.Species, p.Species) {
			continue
		}
		out = append(out, p)
		if filters.Limit > 0 && len(out) == filters.Limit {
			break
		}
	}
	return out, nil
}
