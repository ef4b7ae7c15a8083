package store

import (
	"context"
	"fmt"
	"sync"

	"unify/internal/domain"
	"unify/pkg/platform/sentinel"
)

// Error Contract:
// All store methods follow this pattern:
// - Return ErrNotFound (wrapped) when the requested entity does not exist
// - Return ErrConflict (wrapped) when the version precondition fails
// - Return nil for successful operations

// InMemoryStore keeps profiles and the reverse identifier index in process
// for tests and single-node development. Profiles are cloned on the way in
// and out so callers can never mutate stored state directly.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*domain.Profile
	index    map[string]string
}

// NewMemory constructs an empty in-memory profile store.
func NewMemory() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[string]*domain.Profile),
		index:    make(map[string]string),
	}
}

func (s *InMemoryStore) Get(_ context.Context, profileID string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if prof, ok := s.profiles[profileID]; ok {
		return prof.Clone(), nil
	}
	return nil, fmt.Errorf("profile %s: %w", profileID, sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindByIdentifier(ctx context.Context, ident domain.Identifier) (*domain.Profile, error) {
	s.mu.RLock()
	profileID, ok := s.index[ident.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("identifier %s: %w", ident.Kind, sentinel.ErrNotFound)
	}
	return s.Get(ctx, profileID)
}

func (s *InMemoryStore) Find(_ context.Context, ident domain.Identifier) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if profileID, ok := s.index[ident.String()]; ok {
		return profileID, nil
	}
	return "", fmt.Errorf("identifier %s: %w", ident.Kind, sentinel.ErrNotFound)
}

func (s *InMemoryStore) Create(_ context.Context, p *domain.Profile, bindings []domain.Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[p.ProfileID]; exists {
		return fmt.Errorf("profile %s: %w", p.ProfileID, sentinel.ErrConflict)
	}
	s.profiles[p.ProfileID] = p.Clone()
	s.bindLocked(p.ProfileID, bindings)
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, p *domain.Profile, prevVersion int64, bindings []domain.Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.profiles[p.ProfileID]
	if !ok {
		return fmt.Errorf("profile %s: %w", p.ProfileID, sentinel.ErrNotFound)
	}
	if stored.Version != prevVersion {
		return fmt.Errorf("profile %s at v%d, expected v%d: %w",
			p.ProfileID, stored.Version, prevVersion, sentinel.ErrConflict)
	}
	s.profiles[p.ProfileID] = p.Clone()
	s.bindLocked(p.ProfileID, bindings)
	return nil
}

// bindLocked is first-binding-wins, matching the Postgres store's
// ON CONFLICT DO NOTHING: an identifier indexed to one profile stays there
// until an erasure cascade removes it.
func (s *InMemoryStore) bindLocked(profileID string, bindings []domain.Identifier) {
	for _, ident := range bindings {
		if _, bound := s.index[ident.String()]; bound {
			continue
		}
		s.index[ident.String()] = profileID
	}
}
