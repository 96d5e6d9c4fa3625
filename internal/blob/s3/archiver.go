package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// archives at or above this size go through the multipart uploader
	multipartThreshold = 16 << 20
)

// ArchivedPurchase is one line of a purchase archive.
type ArchivedPurchase struct {
	domain.Purchase
	Events []domain.PurchaseEvent `json:"events"`
}

// Archiver implements domain.Archiver. Rows are removed from the primary
// store only after their archive object has been written.
type Archiver struct {
	writer    domain.BlobWriter
	orders    domain.OrderStore
	purchases domain.PurchaseStore
	audit     domain.AuditStore
	now       func() time.Time

	multipartAbove int
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	orders domain.OrderStore,
	purchases domain.PurchaseStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:    writer,
		orders:    orders,
		purchases: purchases,
		audit:     audit,
		now:       time.Now,

		multipartAbove: multipartThreshold,
	}
}

// ArchiveOrders uploads taken and expired orders last updated before the
// cutoff and deletes them from the order store.
func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	views, err := a.orders.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	if len(views) == 0 {
		return 0, nil
	}

	path, err := upload(ctx, a, "orders", views)
	if err != nil {
		return 0, err
	}

	keys := make([]string, len(views))
	for i, v := range views {
		keys[i] = v.Key
	}
	deleted, err := a.orders.DeleteKeys(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders delete: %w", err)
	}
	return deleted, a.record(ctx, "archive.orders", path, deleted, before)
}

// ArchivePurchases uploads finished purchases, with their transition
// history, and deletes them from the purchase store.
func (a *Archiver) ArchivePurchases(ctx context.Context, before time.Time) (int64, error) {
	purchases, err := a.purchases.ListFinishedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive purchases query: %w", err)
	}
	if len(purchases) == 0 {
		return 0, nil
	}

	rows := make([]ArchivedPurchase, len(purchases))
	ids := make([]string, len(purchases))
	for i, p := range purchases {
		events, err := a.purchases.Events(ctx, p.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive purchase %s events: %w", p.ID, err)
		}
		rows[i] = ArchivedPurchase{Purchase: p, Events: events}
		ids[i] = p.ID
	}

	path, err := upload(ctx, a, "purchases", rows)
	if err != nil {
		return 0, err
	}
	deleted, err := a.purchases.DeleteIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive purchases delete: %w", err)
	}
	return deleted, a.record(ctx, "archive.purchases", path, deleted, before)
}

func (a *Archiver) record(ctx context.Context, event, path string, count int64, before time.Time) error {
	err := a.audit.Log(ctx, event, path, map[string]any{
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("s3blob: %s audit log: %w", event, err)
	}
	return nil
}

func upload[T any](ctx context.Context, a *Archiver, kind string, rows []T) (string, error) {
	buf, err := marshalJSONL(rows)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	path := ArchivePath(kind, a.now())
	if len(buf) >= a.multipartAbove {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), jsonlContentType, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	return path, nil
}

// ArchivePath returns archive/<kind>/YYYY-MM/<run time>.jsonl. Each run
// writes its own object so earlier archives of the month are kept.
func ArchivePath(kind string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, at.Format("2006-01"), at.Format("20060102T150405.000Z"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
