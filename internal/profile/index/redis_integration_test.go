//go:build integration

package index_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unify/internal/domain"
	"unify/internal/profile/index"
	"unify/internal/profile/store"
	"unify/pkg/platform/sentinel"
	"unify/pkg/testutil/containers"
)

func TestCachedIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	rc := containers.NewRedisContainer(t)

	fallback := store.NewMemory()
	prof := &domain.Profile{
		ProfileID: "88888888-8888-8888-8888-888888888888",
		Identifiers: []domain.IdentifierRecord{{
			Kind: domain.KindEmail, Value: "a@b.com",
			FirstSeenSource: domain.SourceWeb,
		}},
		Version: 1,
	}
	ident := domain.Identifier{Kind: domain.KindEmail, Value: "a@b.com"}
	require.NoError(t, fallback.Create(ctx, prof, []domain.Identifier{ident}))

	cached := index.NewCached(rc.Client, fallback, time.Minute)

	t.Run("miss falls through and backfills", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))

		profileID, err := cached.Find(ctx, ident)
		require.NoError(t, err)
		assert.Equal(t, prof.ProfileID, profileID)

		val, err := rc.Client.Get(ctx, "idx:email:a@b.com").Result()
		require.NoError(t, err)
		assert.Equal(t, prof.ProfileID, val)
	})

	t.Run("hit serves from cache alone", func(t *testing.T) {
		// Replace the fallback's knowledge; the cached binding must win.
		require.NoError(t, rc.Client.Set(ctx, "idx:email:a@b.com", "cached-profile", time.Minute).Err())

		profileID, err := cached.Find(ctx, ident)
		require.NoError(t, err)
		assert.Equal(t, "cached-profile", profileID)
	})

	t.Run("unknown identifier is not found", func(t *testing.T) {
		_, err := cached.Find(ctx, domain.Identifier{Kind: domain.KindPhone, Value: "+49000"})
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("invalidate drops the binding", func(t *testing.T) {
		require.NoError(t, cached.Invalidate(ctx, ident))

		// Next read falls through to the authoritative index again.
		profileID, err := cached.Find(ctx, ident)
		require.NoError(t, err)
		assert.Equal(t, prof.ProfileID, profileID)
	})
}
