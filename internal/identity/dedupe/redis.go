package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "evt:"

// Redis is the shared deduper for multi-instance deployments. Keys expire so
// the set stays bounded; the per-profile applied-event window remains the
// authority inside that horizon.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Seen(ctx context.Context, eventID string) (string, bool, error) {
	profileID, err := r.client.Get(ctx, dedupeKeyPrefix+eventID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("dedupe get: %w", err)
	}
	return profileID, true, nil
}

func (r *Redis) Mark(ctx context.Context, eventID, profileID string) error {
	if err := r.client.Set(ctx, dedupeKeyPrefix+eventID, profileID, r.ttl).Err(); err != nil {
		return fmt.Errorf("dedupe set: %w", err)
	}
	return nil
}
