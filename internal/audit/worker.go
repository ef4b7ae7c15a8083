package audit

import (
	"context"

	"unify/internal/domain"
)

// Worker consumes merge decisions from a channel and persists them. It keeps
// decision recording off the resolve hot path without wiring queue
// implementations into the core.
type Worker struct {
	store Store
	inbox <-chan domain.MergeDecision
}

func NewWorker(store Store, inbox <-chan domain.MergeDecision) *Worker {
	return &Worker{store: store, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case decision := <-w.inbox:
			if err := w.store.Append(ctx, decision); err != nil {
				return err
			}
		}
	}
}
