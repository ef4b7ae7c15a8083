//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"unify/internal/domain"
	"unify/internal/profile/store"
	"unify/pkg/platform/sentinel"
	"unify/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(context.Background()))
}

func (s *PostgresStoreSuite) seed() *domain.Profile {
	return &domain.Profile{
		ProfileID: "66666666-6666-6666-6666-666666666666",
		Identifiers: []domain.IdentifierRecord{{
			Kind: domain.KindEmail, Value: "a@b.com",
			FirstSeenSource: domain.SourceWeb,
			FirstSeenAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}},
		Attributes: map[string]domain.AttributeRecord{
			domain.AttrName: {Value: "Max", Source: domain.SourceWeb},
		},
		Consent:   map[domain.Channel]bool{domain.ChannelEmail: true},
		Version:   1,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	prof := s.seed()

	s.Require().NoError(s.store.Create(ctx, prof,
		[]domain.Identifier{{Kind: domain.KindEmail, Value: "a@b.com"}}))

	got, err := s.store.Get(ctx, prof.ProfileID)
	s.Require().NoError(err)
	s.Equal(prof.ProfileID, got.ProfileID)
	s.Equal(int64(1), got.Version)
	s.Equal("Max", got.Attributes[domain.AttrName].Value)
	s.True(got.Consent[domain.ChannelEmail])

	profileID, err := s.store.Find(ctx, domain.Identifier{Kind: domain.KindEmail, Value: "a@b.com"})
	s.Require().NoError(err)
	s.Equal(prof.ProfileID, profileID)
}

func (s *PostgresStoreSuite) TestNotFound() {
	ctx := context.Background()

	_, err := s.store.Get(ctx, "77777777-7777-7777-7777-777777777777")
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.Find(ctx, domain.Identifier{Kind: domain.KindEmail, Value: "nobody@b.com"})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestConditionalUpdate() {
	ctx := context.Background()
	prof := s.seed()
	s.Require().NoError(s.store.Create(ctx, prof,
		[]domain.Identifier{{Kind: domain.KindEmail, Value: "a@b.com"}}))

	next := prof.Clone()
	next.Version = 2
	next.Identifiers = append(next.Identifiers, domain.IdentifierRecord{
		Kind: domain.KindPhone, Value: "+49111",
		FirstSeenSource: domain.SourceCRM,
		FirstSeenAt:     time.Now().UTC(),
	})
	bindings := []domain.Identifier{{Kind: domain.KindPhone, Value: "+49111"}}

	s.Run("stale version rejected", func() {
		err := s.store.Update(ctx, next, 42, bindings)
		s.ErrorIs(err, sentinel.ErrConflict)

		// Rollback must also undo the identifier binding.
		_, err = s.store.Find(ctx, domain.Identifier{Kind: domain.KindPhone, Value: "+49111"})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("matching version writes profile and index together", func() {
		s.Require().NoError(s.store.Update(ctx, next, 1, bindings))

		got, err := s.store.Get(ctx, prof.ProfileID)
		s.Require().NoError(err)
		s.Equal(int64(2), got.Version)

		profileID, err := s.store.Find(ctx, domain.Identifier{Kind: domain.KindPhone, Value: "+49111"})
		s.Require().NoError(err)
		s.Equal(prof.ProfileID, profileID)
	})

	s.Run("lost race surfaces as conflict", func() {
		// Version already moved to 2; a second writer still holding v1 loses.
		other := prof.Clone()
		other.Version = 2
		s.ErrorIs(s.store.Update(ctx, other, 1, nil), sentinel.ErrConflict)
	})
}

func (s *PostgresStoreSuite) TestKeepsFirstBinding() {
	ctx := context.Background()
	shared := domain.Identifier{Kind: domain.KindDeviceID, Value: "dev-1"}

	first := s.seed()
	first.Identifiers = append(first.Identifiers, domain.IdentifierRecord{
		Kind: domain.KindDeviceID, Value: "dev-1",
		FirstSeenSource: domain.SourceWeb, FirstSeenAt: time.Now().UTC(),
	})
	s.Require().NoError(s.store.Create(ctx, first, []domain.Identifier{shared}))

	second := s.seed()
	second.ProfileID = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	second.Identifiers = []domain.IdentifierRecord{
		{Kind: domain.KindDeviceID, Value: "dev-1",
			FirstSeenSource: domain.SourceMobile, FirstSeenAt: time.Now().UTC()},
	}
	s.Require().NoError(s.store.Create(ctx, second, []domain.Identifier{shared}))

	profileID, err := s.store.Find(ctx, shared)
	s.Require().NoError(err)
	s.Equal(first.ProfileID, profileID)
}

func (s *PostgresStoreSuite) TestBindingRequiresOwnedIdentifier() {
	ctx := context.Background()
	prof := s.seed()

	err := s.store.Create(ctx, prof,
		[]domain.Identifier{{Kind: domain.KindPhone, Value: "+49000"}})
	s.ErrorIs(err, sentinel.ErrInvalidState)
}
