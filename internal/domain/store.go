package domain

import (
	"context"
	"time"
)

// OrderStore persists the latest known view of every indexed order.
type OrderStore interface {
	// Upsert inserts or refreshes a view, keeping the original first-seen time.
	Upsert(ctx context.Context, view OrderView) error
	GetByKey(ctx context.Context, key string) (OrderView, error)
	List(ctx context.Context, q OrderQuery) ([]OrderView, error)
	Count(ctx context.Context, q OrderQuery) (int64, error)
	// ListClosedBefore returns taken or expired orders last updated before the cutoff.
	ListClosedBefore(ctx context.Context, before time.Time) ([]OrderView, error)
	DeleteKeys(ctx context.Context, keys []string) (int64, error)
}

// PurchaseStore persists purchase attempts and their transition history.
type PurchaseStore interface {
	Create(ctx context.Context, p Purchase) error
	Update(ctx context.Context, p Purchase) error
	Get(ctx context.Context, id string) (Purchase, error)
	AppendEvent(ctx context.Context, ev PurchaseEvent) error
	Events(ctx context.Context, purchaseID string) ([]PurchaseEvent, error)
	ListFinishedBefore(ctx context.Context, before time.Time) ([]Purchase, error)
	// DeleteIDs removes purchases and their events.
	DeleteIDs(ctx context.Context, ids []string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Subject   string         `json:"subject"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log of operational events such as
// archive runs and order syncs.
type AuditStore interface {
	Log(ctx context.Context, event, subject string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
