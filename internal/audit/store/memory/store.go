package memory

import (
	"context"
	"sync"

	"unify/internal/domain"
)

// Store keeps merge decisions in memory for tests and development.
type Store struct {
	mu        sync.RWMutex
	decisions []domain.MergeDecision
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, decision domain.MergeDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, decision)
	return nil
}

func (s *Store) ListByProfile(_ context.Context, profileID string) ([]domain.MergeDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MergeDecision
	for _, d := range s.decisions {
		if d.ProfileID == profileID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]domain.MergeDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.decisions) {
		limit = len(s.decisions)
	}
	out := make([]domain.MergeDecision, limit)
	copy(out, s.decisions[len(s.decisions)-limit:])
	return out, nil
}

// All returns every recorded decision, oldest first. Test helper.
func (s *Store) All() []domain.MergeDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MergeDecision, len(s.decisions))
	copy(out, s.decisions)
	return out
}
