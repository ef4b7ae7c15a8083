package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"unify/internal/domain"
	txcontext "unify/pkg/platform/tx"
)

// Store persists merge decisions to the merge_decisions table.
//
// Schema:
//   merge_decisions(decision_id uuid primary key, event_id text not null,
//                   profile_id uuid, decision text not null,
//                   score double precision not null, rule text,
//                   matched_identifiers jsonb, timestamp timestamptz not null)
//
// Append is idempotent via ON CONFLICT DO NOTHING so a replayed event never
// duplicates its audit record.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, decision domain.MergeDecision) error {
	matched, err := json.Marshal(decision.MatchedIdentifiers)
	if err != nil {
		return fmt.Errorf("marshal matched identifiers: %w", err)
	}

	var profileID any
	if decision.ProfileID != "" {
		profileID = decision.ProfileID
	}

	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO merge_decisions (decision_id, event_id, profile_id, decision, score, rule, matched_identifiers, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (decision_id) DO NOTHING
	`,
		decision.DecisionID,
		decision.EventID,
		profileID,
		string(decision.Decision),
		decision.Score,
		decision.Rule,
		matched,
		decision.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert merge decision: %w", err)
	}
	return nil
}

func (s *Store) ListByProfile(ctx context.Context, profileID string) ([]domain.MergeDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT decision_id, event_id, COALESCE(profile_id::text, ''), decision, score, COALESCE(rule, ''), matched_identifiers, timestamp
		FROM merge_decisions
		WHERE profile_id = $1
		ORDER BY timestamp DESC
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("query merge decisions: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]domain.MergeDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT decision_id, event_id, COALESCE(profile_id::text, ''), decision, score, COALESCE(rule, ''), matched_identifiers, timestamp
		FROM merge_decisions
		ORDER BY timestamp DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query merge decisions: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

func scanDecisions(rows *sql.Rows) ([]domain.MergeDecision, error) {
	var decisions []domain.MergeDecision
	for rows.Next() {
		var (
			d       domain.MergeDecision
			status  string
			matched []byte
		)
		if err := rows.Scan(&d.DecisionID, &d.EventID, &d.ProfileID, &status, &d.Score, &d.Rule, &matched, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("scan merge decision: %w", err)
		}
		d.Decision = domain.Decision(status)
		if len(matched) > 0 {
			if err := json.Unmarshal(matched, &d.MatchedIdentifiers); err != nil {
				return nil, fmt.Errorf("unmarshal matched identifiers: %w", err)
			}
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merge decisions: %w", err)
	}
	return decisions, nil
}
