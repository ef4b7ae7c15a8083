package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"unify/internal/domain"
	"unify/pkg/platform/sentinel"
)

// PostgresStore persists profiles as JSONB documents with the reverse
// identifier index in a companion table. Profile write and index update share
// one transaction, which is what makes candidate lookup trustworthy.
//
// Schema:
//   profiles(profile_id uuid primary key, version bigint not null, doc jsonb not null)
//   profile_identifiers(kind text, value text, profile_id uuid not null,
//                       first_seen_source text not null, first_seen_at timestamptz not null,
//                       primary key (kind, value))
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed profile store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, profileID string) (*domain.Profile, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM profiles WHERE profile_id = $1`, profileID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", profileID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return decodeProfile(doc)
}

func (s *PostgresStore) FindByIdentifier(ctx context.Context, ident domain.Identifier) (*domain.Profile, error) {
	profileID, err := s.Find(ctx, ident)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, profileID)
}

func (s *PostgresStore) Find(ctx context.Context, ident domain.Identifier) (string, error) {
	var profileID string
	err := s.db.QueryRowContext(ctx,
		`SELECT profile_id FROM profile_identifiers WHERE kind = $1 AND value = $2`,
		string(ident.Kind), ident.Value).Scan(&profileID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("identifier %s: %w", ident.Kind, sentinel.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query identifier index: %w", err)
	}
	return profileID, nil
}

func (s *PostgresStore) Create(ctx context.Context, p *domain.Profile, bindings []domain.Identifier) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (profile_id, version, doc) VALUES ($1, $2, $3)`,
			p.ProfileID, p.Version, doc)
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		return s.bindTx(ctx, tx, p, bindings)
	})
}

func (s *PostgresStore) Update(ctx context.Context, p *domain.Profile, prevVersion int64, bindings []domain.Identifier) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE profiles SET version = $2, doc = $3 WHERE profile_id = $1 AND version = $4`,
			p.ProfileID, p.Version, doc, prevVersion)
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("profile %s stale at v%d: %w", p.ProfileID, prevVersion, sentinel.ErrConflict)
		}
		return s.bindTx(ctx, tx, p, bindings)
	})
}

func (s *PostgresStore) bindTx(ctx context.Context, tx *sql.Tx, p *domain.Profile, bindings []domain.Identifier) error {
	for _, ident := range bindings {
		rec, ok := p.IdentifierBy(ident.Kind, ident.Value)
		if !ok {
			return fmt.Errorf("binding %s not on profile %s: %w", ident.Kind, p.ProfileID, sentinel.ErrInvalidState)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO profile_identifiers (kind, value, profile_id, first_seen_source, first_seen_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (kind, value) DO NOTHING`,
			string(ident.Kind), ident.Value, p.ProfileID, string(rec.FirstSeenSource), rec.FirstSeenAt)
		if err != nil {
			return fmt.Errorf("bind identifier %s: %w", ident.Kind, err)
		}
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func decodeProfile(doc []byte) (*domain.Profile, error) {
	var p domain.Profile
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &p, nil
}
