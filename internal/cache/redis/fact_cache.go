package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/redis/go-redis/v9"
)

// FactCache implements domain.FactCache.
//
// Key schema:
//
//	fact:taken:{orderKey} - "1", no expiry
//	fact:valid:{orderKey} - "1" or "0", expires after the validity TTL
type FactCache struct {
	c        *Client
	validTTL time.Duration
}

// NewFactCache creates a FactCache that keeps validity facts for validTTL.
func NewFactCache(c *Client, validTTL time.Duration) *FactCache {
	if validTTL <= 0 {
		validTTL = time.Minute
	}
	return &FactCache{c: c, validTTL: validTTL}
}

// GetTaken reports which of keys are known to be taken. Unknown keys are
// absent from the result.
func (fc *FactCache) GetTaken(ctx context.Context, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rk := make([]string, len(keys))
	for i, k := range keys {
		rk[i] = fc.c.key("fact", "taken", k)
	}
	vals, err := fc.c.rdb.MGet(ctx, rk...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get taken facts: %w", err)
	}
	for i, v := range vals {
		if v != nil {
			out[keys[i]] = true
		}
	}
	return out, nil
}

// SetTaken records that the order can no longer be filled.
func (fc *FactCache) SetTaken(ctx context.Context, key string) error {
	if err := fc.c.rdb.Set(ctx, fc.c.key("fact", "taken", key), "1", 0).Err(); err != nil {
		return fmt.Errorf("redis: set taken %s: %w", key, err)
	}
	return nil
}

// GetValid returns the cached validity of an order. ok is false when no
// fresh fact is cached.
func (fc *FactCache) GetValid(ctx context.Context, key string) (valid, ok bool, err error) {
	v, err := fc.c.rdb.Get(ctx, fc.c.key("fact", "valid", key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("redis: get valid %s: %w", key, err)
	}
	return v == "1", true, nil
}

// SetValid caches the validity of an order for the configured TTL.
func (fc *FactCache) SetValid(ctx context.Context, key string, valid bool) error {
	v := "0"
	if valid {
		v = "1"
	}
	if err := fc.c.rdb.Set(ctx, fc.c.key("fact", "valid", key), v, fc.validTTL).Err(); err != nil {
		return fmt.Errorf("redis: set valid %s: %w", key, err)
	}
	return nil
}

var _ domain.FactCache = (*FactCache)(nil)
