// Package store persists golden records together with the reverse identifier
// index. Implementations must make the profile write and its index update one
// atomic step so candidate lookup never sees a binding without its profile.
package store

import (
	"context"

	"unify/internal/domain"
)

// Store is implemented by the in-memory and Postgres profile stores. Update
// must fail with sentinel.ErrConflict when prevVersion no longer matches the
// stored version.
type Store interface {
	Get(ctx context.Context, profileID string) (*domain.Profile, error)
	FindByIdentifier(ctx context.Context, ident domain.Identifier) (*domain.Profile, error)
	Create(ctx context.Context, p *domain.Profile, bindings []domain.Identifier) error
	Update(ctx context.Context, p *domain.Profile, prevVersion int64, bindings []domain.Identifier) error

	// Find satisfies the candidate lookup's reverse index contract.
	Find(ctx context.Context, ident domain.Identifier) (string, error)
}
