// Package index provides the low-latency read path for the reverse
// identifier index.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"unify/internal/domain"
	"unify/internal/identity"
)

const indexKeyPrefix = "idx:"

// Cached fronts the authoritative store-backed index with Redis. Bindings are
// append-only, so cached hits stay valid for their full TTL; misses fall back
// to the store and backfill.
type Cached struct {
	client   *redis.Client
	fallback identity.Index
	ttl      time.Duration
}

func NewCached(client *redis.Client, fallback identity.Index, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cached{client: client, fallback: fallback, ttl: ttl}
}

func (c *Cached) Find(ctx context.Context, ident domain.Identifier) (string, error) {
	key := indexKeyPrefix + ident.String()

	profileID, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return profileID, nil
	}
	if !errors.Is(err, redis.Nil) {
		// Degrade to the authoritative index instead of failing the lookup.
		return c.fallback.Find(ctx, ident)
	}

	profileID, err = c.fallback.Find(ctx, ident)
	if err != nil {
		return "", err
	}
	if setErr := c.client.Set(ctx, key, profileID, c.ttl).Err(); setErr != nil {
		return profileID, nil
	}
	return profileID, nil
}

// Invalidate drops a cached binding. Only the external erasure cascade needs
// this; merges never rebind an existing pair.
func (c *Cached) Invalidate(ctx context.Context, ident domain.Identifier) error {
	if err := c.client.Del(ctx, indexKeyPrefix+ident.String()).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", ident.Kind, err)
	}
	return nil
}

var _ identity.Index = (*Cached)(nil)
