package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/stagebook/config"
	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client        *redis.Client
	performersTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, performersTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:        redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		performersTTL: performersTTL,
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetPerformers(ctx context.Context) ([]domain.Performer, error) {
	data, err := c.client.Get(ctx, performersKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var performers []domain.Performer
	if err := json.Unmarshal(data, &performers); err != nil {
		return nil, err
	}
	return performers, nil
}

func (c *RedisCache) SetPerformers(ctx context.Context, performers []domain.Performer) error {
	payload, err := json.Marshal(performers)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, performersKey(), payload, c.performersTTL).Err()
}

func (c *RedisCache) InvalidatePerformers(ctx context.Context) error {
	return c.client.Del(ctx, performersKey()).Err()
}

// ClaimEvent records a webhook event for ttl. It returns false when the event
// was already claimed, which marks a replay.
func (c *RedisCache) ClaimEvent(ctx context.Context, eventID, checksum string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, eventKey(eventID, checksum), "claimed", ttl).Result()
}

func (c *RedisCache) ReleaseEvent(ctx context.Context, eventID, checksum string) error {
	return c.client.Del(ctx, eventKey(eventID, checksum)).Err()
}

func performersKey() string {
	return "cache:performers"
}

func eventKey(eventID, checksum string) string {
	return fmt.Sprintf("dedup:payment-event:%s:%s", eventID, checksum)
}
