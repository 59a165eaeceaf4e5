package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// BalanceCache holds recently read balance projections.
type BalanceCache interface {
	Get(ctx context.Context, ownerID string) (Balance, bool, error)
	Set(ctx context.Context, b Balance) error
	Invalidate(ctx context.Context, ownerID string) error
}

// RedisCache stores balances as JSON under wallet:balance:<owner_id>.
type RedisCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func balanceKey(ownerID string) string { return "wallet:balance:" + ownerID }

func (c *RedisCache) Get(ctx context.Context, ownerID string) (Balance, bool, error) {
	raw, err := c.rdb.Get(ctx, balanceKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, err
	}
	var b Balance
	if err := json.Unmarshal(raw, &b); err != nil {
		return Balance{}, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, b Balance) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, balanceKey(b.OwnerID), raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, ownerID string) error {
	return c.rdb.Del(ctx, balanceKey(ownerID)).Err()
}

type noCache struct{}

func (noCache) Get(context.Context, string) (Balance, bool, error) { return Balance{}, false, nil }
func (noCache) Set(context.Context, Balance) error { return nil }
func (noCache) Invalidate(context.Context, string) error { return nil }
