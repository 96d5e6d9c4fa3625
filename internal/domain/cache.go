package domain

import (
	"context"
	"time"
)

// FactCache remembers on-chain facts between syncs. A taken fact is permanent
// since nonce consumption cannot be undone; validity is cached briefly.
type FactCache interface {
	GetTaken(ctx context.Context, keys []string) (map[string]bool, error)
	SetTaken(ctx context.Context, key string) error
	GetValid(ctx context.Context, key string) (valid bool, ok bool, err error)
	SetValid(ctx context.Context, key string, valid bool) error
}

// ListingMarks tracks which orders count as newly listed.
type ListingMarks interface {
	// MarkNew flags the key as newly listed unless it was seen before. It
	// reports whether this call created the mark.
	MarkNew(ctx context.Context, key string) (bool, error)
	IsNew(ctx context.Context, keys []string) (map[string]bool, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
