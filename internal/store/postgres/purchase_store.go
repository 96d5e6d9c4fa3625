package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

// PurchaseStore implements domain.PurchaseStore.
type PurchaseStore struct {
	pool *pgxpool.Pool
}

// NewPurchaseStore creates a PurchaseStore.
func NewPurchaseStore(pool *pgxpool.Pool) *PurchaseStore {
	return &PurchaseStore{pool: pool}
}

// Create inserts a new purchase. A duplicate ID yields domain.ErrAlreadyExists.
func (s *PurchaseStore) Create(ctx context.Context, p domain.Purchase) error {
	const query = `
		INSERT INTO purchases (id, order_key, account, state, required, tx_hash, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.OrderKey, p.Account, string(p.State), p.Required,
		p.TxHash, p.Error, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create purchase %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: purchase %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// Update stores the latest state, transaction and error of a purchase.
func (s *PurchaseStore) Update(ctx context.Context, p domain.Purchase) error {
	const query = `
		UPDATE purchases
		SET state = $2, tx_hash = $3, error = $4, updated_at = $5
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, p.ID, string(p.State), p.TxHash, p.Error, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update purchase %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: purchase %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

const purchaseSelectCols = `id, order_key, account, state, required, tx_hash, error, created_at, updated_at`

func scanPurchase(row pgx.Row) (domain.Purchase, error) {
	var p domain.Purchase
	var state string
	err := row.Scan(&p.ID, &p.OrderKey, &p.Account, &state, &p.Required,
		&p.TxHash, &p.Error, &p.CreatedAt, &p.UpdatedAt)
	p.State = domain.PurchaseState(state)
	return p, err
}

// Get returns a purchase by ID.
func (s *PurchaseStore) Get(ctx context.Context, id string) (domain.Purchase, error) {
	p, err := scanPurchase(s.pool.QueryRow(ctx,
		`SELECT `+purchaseSelectCols+` FROM purchases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Purchase{}, fmt.Errorf("postgres: purchase %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("postgres: get purchase %s: %w", id, err)
	}
	return p, nil
}

// AppendEvent records one transition of a purchase.
func (s *PurchaseStore) AppendEvent(ctx context.Context, ev domain.PurchaseEvent) error {
	const query = `
		INSERT INTO purchase_events (purchase_id, from_state, to_state, trigger, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		ev.PurchaseID, string(ev.From), string(ev.To), ev.Trigger, ev.Detail, ev.At)
	if err != nil {
		return fmt.Errorf("postgres: append purchase event %s: %w", ev.PurchaseID, err)
	}
	return nil
}

// Events returns the transitions of a purchase in the order they happened.
func (s *PurchaseStore) Events(ctx context.Context, purchaseID string) ([]domain.PurchaseEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT purchase_id, from_state, to_state, trigger, detail, at
		 FROM purchase_events WHERE purchase_id = $1 ORDER BY id`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list purchase events %s: %w", purchaseID, err)
	}
	defer rows.Close()

	var out []domain.PurchaseEvent
	for rows.Next() {
		var ev domain.PurchaseEvent
		var from, to string
		if err := rows.Scan(&ev.PurchaseID, &from, &to, &ev.Trigger, &ev.Detail, &ev.At); err != nil {
			return nil, fmt.Errorf("postgres: scan purchase event: %w", err)
		}
		ev.From = domain.PurchaseState(from)
		ev.To = domain.PurchaseState(to)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: purchase events rows: %w", err)
	}
	return out, nil
}

// ListFinishedBefore returns succeeded or failed purchases last updated
// before the cutoff.
func (s *PurchaseStore) ListFinishedBefore(ctx context.Context, before time.Time) ([]domain.Purchase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+purchaseSelectCols+` FROM purchases
		 WHERE state = ANY($1) AND updated_at < $2
		 ORDER BY updated_at`,
		[]string{string(domain.PurchaseSuccess), string(domain.PurchaseFailed)}, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list finished purchases: %w", err)
	}
	defer rows.Close()

	var out []domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan purchase: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: finished purchases rows: %w", err)
	}
	return out, nil
}

// DeleteIDs removes purchases; their events go with them by cascade.
func (s *PurchaseStore) DeleteIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM purchases WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete purchases: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.PurchaseStore = (*PurchaseStore)(nil)
