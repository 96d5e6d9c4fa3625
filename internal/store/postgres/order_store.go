package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

// OrderStore implements domain.OrderStore. The full order is kept as JSONB
// next to the columns used for filtering.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Upsert inserts a view or refreshes its derived columns. first_seen_at is
// set once and never overwritten.
func (s *OrderStore) Upsert(ctx context.Context, v domain.OrderView) error {
	payload, err := json.Marshal(v.Order)
	if err != nil {
		return fmt.Errorf("postgres: marshal order %s: %w", v.Key, err)
	}
	var firstSeen *time.Time
	if !v.FirstSeenAt.IsZero() {
		firstSeen = &v.FirstSeenAt
	}
	updated := v.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	const query = `
		INSERT INTO orders (
			order_key, chain_id, nonce, signer_wallet, signer_token, signer_id,
			sender_token, expiry, state, label, highlighted,
			total_with_fees, readable_total, payload, first_seen_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, COALESCE($15, NOW()), $16
		)
		ON CONFLICT (order_key) DO UPDATE SET
			state           = EXCLUDED.state,
			label           = EXCLUDED.label,
			highlighted     = EXCLUDED.highlighted,
			total_with_fees = EXCLUDED.total_with_fees,
			readable_total  = EXCLUDED.readable_total,
			payload         = EXCLUDED.payload,
			updated_at      = EXCLUDED.updated_at`

	o := v.Order
	_, err = s.pool.Exec(ctx, query,
		v.Key, o.ChainID, o.Nonce, o.Signer.Wallet, o.Signer.Token, o.Signer.ID,
		o.Sender.Token, o.Expiry, string(v.State), v.Label, v.Highlighted,
		v.TotalWithFees, v.ReadableTotal, payload, firstSeen, updated,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", v.Key, err)
	}
	return nil
}

const orderSelectCols = `order_key, state, label, highlighted, total_with_fees,
	readable_total, payload, first_seen_at, updated_at`

func scanOrderView(row pgx.Row) (domain.OrderView, error) {
	var v domain.OrderView
	var state string
	var payload []byte
	if err := row.Scan(
		&v.Key, &state, &v.Label, &v.Highlighted, &v.TotalWithFees,
		&v.ReadableTotal, &payload, &v.FirstSeenAt, &v.UpdatedAt,
	); err != nil {
		return domain.OrderView{}, err
	}
	v.State = domain.OrderState(state)
	if err := json.Unmarshal(payload, &v.Order); err != nil {
		return domain.OrderView{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	return v, nil
}

func (s *OrderStore) queryViews(ctx context.Context, query string, args ...any) ([]domain.OrderView, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OrderView
	for rows.Next() {
		v, err := scanOrderView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetByKey returns the stored view for key.
func (s *OrderStore) GetByKey(ctx context.Context, key string) (domain.OrderView, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE order_key = $1`, key)
	v, err := scanOrderView(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OrderView{}, fmt.Errorf("postgres: order %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.OrderView{}, fmt.Errorf("postgres: get order %s: %w", key, err)
	}
	return v, nil
}

// List returns views matching q, newest first.
func (s *OrderStore) List(ctx context.Context, q domain.OrderQuery) ([]domain.OrderView, error) {
	where, args := orderWhere(q)
	query := `SELECT ` + orderSelectCols + ` FROM orders` + where + ` ORDER BY first_seen_at DESC, order_key`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	views, err := s.queryViews(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	return views, nil
}

// Count returns how many views match q, ignoring pagination.
func (s *OrderStore) Count(ctx context.Context, q domain.OrderQuery) (int64, error) {
	where, args := orderWhere(q)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count orders: %w", err)
	}
	return n, nil
}

// ListClosedBefore implements domain.OrderStore.
func (s *OrderStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.OrderView, error) {
	views, err := s.queryViews(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE state = ANY($1) AND updated_at < $2
		 ORDER BY updated_at`,
		[]string{string(domain.OrderStateTaken), string(domain.OrderStateExpired)}, before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed orders: %w", err)
	}
	return views, nil
}

// DeleteKeys removes the given orders and reports how many were deleted.
func (s *OrderStore) DeleteKeys(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE order_key = ANY($1)`, keys)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// orderWhere builds the WHERE clause shared by List and Count.
func orderWhere(q domain.OrderQuery) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.SignerToken != "" {
		add("lower(signer_token) = lower($%d)", q.SignerToken)
	}
	if q.SignerWallet != "" {
		add("lower(signer_wallet) = lower($%d)", q.SignerWallet)
	}
	if len(q.States) > 0 {
		states := make([]string, len(q.States))
		for i, st := range q.States {
			states[i] = string(st)
		}
		add("state = ANY($%d)", states)
	}
	if q.Search != "" {
		add("signer_id LIKE $%d", escapeLike(q.Search)+"%")
	}
	if q.Since != nil {
		add("first_seen_at >= $%d", *q.Since)
	}
	if q.Until != nil {
		add("first_seen_at <= $%d", *q.Until)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var _ domain.OrderStore = (*OrderStore)(nil)
