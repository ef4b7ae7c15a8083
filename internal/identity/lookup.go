package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"unify/internal/domain"
	"unify/pkg/platform/sentinel"
)

// Index is the reverse identifier index collaborator: (kind, value) to the
// owning profile. Implementations return sentinel.ErrNotFound for unknown
// pairs.
type Index interface {
	Find(ctx context.Context, ident domain.Identifier) (string, error)
}

// Lookup finds existing profile candidates sharing any identifier with an
// event. It is a pure read; an event with no known identifiers yields an
// empty result, never an error — the common case for first-touch anonymous
// traffic.
type Lookup struct {
	index   Index
	timeout time.Duration
}

func NewLookup(index Index, timeout time.Duration) *Lookup {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Lookup{index: index, timeout: timeout}
}

// FindCandidates returns the union of per-identifier matches, deduplicated by
// profile ID and annotated with the identifier kinds that matched.
func (l *Lookup) FindCandidates(ctx context.Context, event domain.IdentityEvent) ([]domain.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var candidates []domain.Candidate
	byProfile := make(map[string]int)

	for _, ident := range event.Identifiers {
		profileID, err := l.index.Find(ctx, ident)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("index lookup %s: %w", ident.Kind, err)
		}
		if pos, ok := byProfile[profileID]; ok {
			candidates[pos].MatchedKinds = appendKind(candidates[pos].MatchedKinds, ident.Kind)
			continue
		}
		byProfile[profileID] = len(candidates)
		candidates = append(candidates, domain.Candidate{
			ProfileID:    profileID,
			MatchedKinds: []domain.IdentifierKind{ident.Kind},
		})
	}
	return candidates, nil
}

func appendKind(kinds []domain.IdentifierKind, kind domain.IdentifierKind) []domain.IdentifierKind {
	for _, k := range kinds {
		if k == kind {
			return kinds
		}
	}
	return append(kinds, kind)
}
