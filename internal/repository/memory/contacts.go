package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/repository"
)

// ContactStore is a fixed contact snapshot plus named target sets.
type ContactStore struct {
	mu       sync.RWMutex
	contacts map[int]model.Contact
	sets     map[int][]int
}

func NewContactStore() *ContactStore {
	return &ContactStore{
		contacts: make(map[int]model.Contact),
		sets:     make(map[int][]int),
	}
}

var _ repository.ContactRepositoryInterface = (*ContactStore)(nil)

// Put adds or replaces contacts and appends them to set setID.
func (s *ContactStore) Put(setID int, contacts ...model.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range contacts {
		if !slices.Contains(s.sets[setID], c.ID) {
			s.sets[setID] = append(s.sets[setID], c.ID)
		}
		s.contacts[c.ID] = c
	}
}

func (s *ContactStore) GetByID(ctx context.Context, id int) (*model.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *ContactStore) ResolveTargetSet(ctx context.Context, setID int) ([]model.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Contact{}
	for _, id := range s.sets[setID] {
		out = append(out, s.contacts[id])
	}
	return out, nil
}
