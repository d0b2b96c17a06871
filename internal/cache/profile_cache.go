package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/academy-hub/audit-trail/internal/db/models"
	"github.com/academy-hub/audit-trail/internal/safego"
)

const profileKeyPrefix = "audit:profile:"

// ProfileSource is the authoritative profile lookup behind the cache
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// kv is the subset of the Redis client the cache uses
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ProfileCache serves actor profiles from Redis, loading misses from source.
// Missing profiles are not cached so a newly created profile is visible at once.
// Role and branch changes take effect when the user id is published on the
// profile channel (see ListenForChanges), and at the latest after the TTL.
type ProfileCache struct {
	client kv
	source ProfileSource
	ttl    time.Duration
}

// NewProfileCache creates a ProfileCache. client is usually a *redis.Client.
func NewProfileCache(client kv, source ProfileSource, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ProfileCache{client: client, source: source, ttl: ttl}
}

func profileKey(userID string) string {
	return profileKeyPrefix + userID
}

// GetProfile returns the profile of userID, or nil when there is none
func (c *ProfileCache) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	key := profileKey(userID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p models.Profile
		if jerr := json.Unmarshal(data, &p); jerr == nil {
			return &p, nil
		}
		slog.Warn("discarding corrupt cached profile", "user_id", userID)
	case errors.Is(err, redis.Nil):
	default:
		slog.Warn("profile cache read failed; falling back to database", "user_id", userID, "error", err)
	}

	p, err := c.source.GetProfile(ctx, userID)
	if err != nil || p == nil {
		return p, err
	}

	if data, err := json.Marshal(p); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			slog.Warn("profile cache write failed", "user_id", userID, "error", err)
		}
	}
	return p, nil
}

// Invalidate drops the cached profile of userID
func (c *ProfileCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, profileKey(userID)).Err()
}

// ListenForChanges subscribes to channel and invalidates the profile of every
// user id published on it until ctx is cancelled.
func (c *ProfileCache) ListenForChanges(ctx context.Context, rdb *redis.Client, channel string) error {
	sub := rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	safego.Go("profile-invalidation", func() {
		defer sub.Close()
		c.consumeChanges(ctx, sub.Channel())
	})
	return nil
}

func (c *ProfileCache) consumeChanges(ctx context.Context, msgs <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			userID := strings.TrimSpace(msg.Payload)
			if userID == "" {
				continue
			}
			if err := c.Invalidate(ctx, userID); err != nil {
				slog.Warn("failed to invalidate cached profile", "user_id", userID, "error", err)
				continue
			}
			slog.Debug("cached profile invalidated", "user_id", userID)
		}
	}
}
