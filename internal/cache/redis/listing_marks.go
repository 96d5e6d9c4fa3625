package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

// ListingMarks implements domain.ListingMarks. An order is newly listed for
// a fixed window after it is first seen; a permanent seen marker keeps it
// from being flagged again once the window lapses.
type ListingMarks struct {
	c      *Client
	window time.Duration
}

// NewListingMarks creates ListingMarks with the given highlight window.
func NewListingMarks(c *Client, window time.Duration) *ListingMarks {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &ListingMarks{c: c, window: window}
}

// MarkNew implements domain.ListingMarks.
func (lm *ListingMarks) MarkNew(ctx context.Context, key string) (bool, error) {
	created, err := lm.c.rdb.SetNX(ctx, lm.c.key("listing", "seen", key), time.Now().Unix(), 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark seen %s: %w", key, err)
	}
	if !created {
		return false, nil
	}
	if err := lm.c.rdb.Set(ctx, lm.c.key("listing", "new", key), "1", lm.window).Err(); err != nil {
		return false, fmt.Errorf("redis: mark new %s: %w", key, err)
	}
	return true, nil
}

// IsNew implements domain.ListingMarks.
func (lm *ListingMarks) IsNew(ctx context.Context, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rk := make([]string, len(keys))
	for i, k := range keys {
		rk[i] = lm.c.key("listing", "new", k)
	}
	vals, err := lm.c.rdb.MGet(ctx, rk...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: listing marks: %w", err)
	}
	for i, v := range vals {
		if v != nil {
			out[keys[i]] = true
		}
	}
	return out, nil
}

var _ domain.ListingMarks = (*ListingMarks)(nil)
