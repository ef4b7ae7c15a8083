// Package audit owns the append-only trail of merge decisions. Every
// processed event produces exactly one record; adjudication and observability
// collaborators consume them downstream.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"unify/internal/domain"
)

// Store is the append-only persistence contract for merge decisions.
type Store interface {
	Append(ctx context.Context, decision domain.MergeDecision) error
	ListByProfile(ctx context.Context, profileID string) ([]domain.MergeDecision, error)
	ListRecent(ctx context.Context, limit int) ([]domain.MergeDecision, error)
}

// Publisher captures merge decisions. It is append-only and uses the storage
// layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, decision domain.MergeDecision) error {
	if decision.DecisionID == "" {
		decision.DecisionID = uuid.NewString()
	}
	if decision.Timestamp.IsZero() {
		decision.Timestamp = time.Now()
	}
	return p.store.Append(ctx, decision)
}

func (p *Publisher) ListByProfile(ctx context.Context, profileID string) ([]domain.MergeDecision, error) {
	return p.store.ListByProfile(ctx, profileID)
}

// Inbox fronts the worker's channel so the resolver can emit decisions
// without blocking on storage.
type Inbox chan domain.MergeDecision

func (in Inbox) Emit(ctx context.Context, decision domain.MergeDecision) error {
	select {
	case in <- decision:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
