package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/alanyoungcy/swapmarket/internal/orderstate"
)

// nonceLookupLimit bounds concurrent nonceUsed calls during a sync.
const nonceLookupLimit = 8

// OrderSource lists signed orders from the indexers.
type OrderSource interface {
	GetOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
}

// OrderFacts reads the on-chain facts an order state depends on.
type OrderFacts interface {
	NonceUsed(ctx context.Context, order domain.Order) (bool, error)
	OrdersValid(ctx context.Context, orders []domain.Order) ([]bool, error)
}

// Notifier delivers operator notifications filtered by event type.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// OrderServiceConfig scopes which orders a sync pulls.
type OrderServiceConfig struct {
	ChainID          int64
	CollectionToken  string
	CurrencyDecimals int32
}

// SyncResult summarises one sync.
type SyncResult struct {
	Fetched   int                       `json:"fetched"`
	Skipped   int                       `json:"skipped"`
	NewlySeen int                       `json:"newly_seen"`
	States    map[domain.OrderState]int `json:"states"`
}

// OrderService pulls orders from the indexers, annotates them with their
// lifecycle state and keeps the order store current.
type OrderService struct {
	source   OrderSource
	facts    OrderFacts
	deriver  *orderstate.Deriver
	store    domain.OrderStore
	cache    domain.FactCache
	marks    domain.ListingMarks
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	cfg      OrderServiceConfig
	lookups  singleflight.Group
	logger   *slog.Logger
}

// NewOrderService creates an OrderService. notifier may be nil.
func NewOrderService(
	source OrderSource,
	facts OrderFacts,
	deriver *orderstate.Deriver,
	store domain.OrderStore,
	cache domain.FactCache,
	marks domain.ListingMarks,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier Notifier,
	cfg OrderServiceConfig,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		source:   source,
		facts:    facts,
		deriver:  deriver,
		store:    store,
		cache:    cache,
		marks:    marks,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "order_service")),
	}
}

// Sync fetches the listed orders, resolves their on-chain facts, derives
// their states and upserts the resulting views.
func (s *OrderService) Sync(ctx context.Context) (SyncResult, error) {
	res := SyncResult{States: map[domain.OrderState]int{}}

	fetched, err := s.source.GetOrders(ctx, domain.OrderFilter{
		ChainID:     s.cfg.ChainID,
		SignerToken: s.cfg.CollectionToken,
	})
	if err != nil {
		return res, fmt.Errorf("order_service: fetch orders: %w", err)
	}
	res.Fetched = len(fetched)

	orders := make([]domain.Order, 0, len(fetched))
	for _, o := range fetched {
		if err := o.Validate(); err != nil {
			s.logger.WarnContext(ctx, "skipping malformed order",
				slog.String("key", o.Key()),
				slog.String("error", err.Error()),
			)
			res.Skipped++
			continue
		}
		orders = append(orders, o)
	}
	if len(orders) == 0 {
		return res, nil
	}

	taken, err := s.resolveTaken(ctx, orders)
	if err != nil {
		return res, err
	}
	valid := s.resolveValid(ctx, orders, taken)

	keys := make([]string, len(orders))
	for i, o := range orders {
		keys[i] = o.Key()
		created, err := s.marks.MarkNew(ctx, keys[i])
		if err != nil {
			return res, fmt.Errorf("order_service: mark listing %s: %w", keys[i], err)
		}
		if created {
			res.NewlySeen++
		}
	}
	fresh, err := s.marks.IsNew(ctx, keys)
	if err != nil {
		return res, fmt.Errorf("order_service: listing marks: %w", err)
	}

	views := make([]domain.OrderView, 0, len(orders))
	for _, o := range orders {
		key := o.Key()
		facts := domain.OrderFacts{Taken: taken[key], Valid: valid[key]}
		state := s.deriver.DeriveState(o, facts.Taken, facts.Valid)
		highlighted := fresh[key] && state == domain.OrderStateOpen

		view, err := s.deriver.View(o, facts, highlighted, s.cfg.CurrencyDecimals)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping order without a price",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			res.Skipped++
			continue
		}
		if err := s.store.Upsert(ctx, view); err != nil {
			return res, fmt.Errorf("order_service: upsert %s: %w", key, err)
		}
		res.States[view.State]++
		views = append(views, view)
	}

	s.publish(ctx, views)
	if err := s.audit.Log(ctx, "orders.sync", s.cfg.CollectionToken, map[string]any{
		"fetched": res.Fetched,
		"skipped": res.Skipped,
		"new":     res.NewlySeen,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "orders synced",
		slog.Int("fetched", res.Fetched),
		slog.Int("open", res.States[domain.OrderStateOpen]),
		slog.Int("taken", res.States[domain.OrderStateTaken]),
		slog.Int("expired", res.States[domain.OrderStateExpired]),
		slog.Int("invalid", res.States[domain.OrderStateInvalid]),
	)
	return res, nil
}

// resolveTaken answers nonceUsed for every order, from the fact cache when
// possible. Orders whose lookup fails are treated as not taken for this
// sync.
func (s *OrderService) resolveTaken(ctx context.Context, orders []domain.Order) (map[string]bool, error) {
	keys := make([]string, len(orders))
	for i, o := range orders {
		keys[i] = o.Key()
	}
	cached, err := s.cache.GetTaken(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("order_service: taken cache: %w", err)
	}

	var mu sync.Mutex
	taken := make(map[string]bool, len(orders))
	for k, v := range cached {
		taken[k] = v
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(nonceLookupLimit)
	for _, o := range orders {
		if cached[o.Key()] {
			continue
		}
		g.Go(func() error {
			used, err := s.NonceUsed(gctx, o)
			if err != nil {
				s.logger.WarnContext(gctx, "nonce lookup failed",
					slog.String("key", o.Key()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			taken[o.Key()] = used
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return taken, nil
}

// NonceUsed reports whether the order's nonce has been consumed. Concurrent
// lookups for the same order share one chain call, and a positive answer
// is cached permanently.
func (s *OrderService) NonceUsed(ctx context.Context, o domain.Order) (bool, error) {
	key := o.Key()
	v, err, _ := s.lookups.Do(key, func() (any, error) {
		used, err := s.facts.NonceUsed(ctx, o)
		if err != nil || !used {
			return used, err
		}
		if err := s.cache.SetTaken(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "cache taken fact failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		s.notifyTaken(ctx, o)
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("order_service: nonce used %s: %w", key, err)
	}
	return v.(bool), nil
}

// resolveValid runs the batched contract check for orders that are still
// candidates for open. Without the validity policy every order counts as
// valid. A failed batch leaves orders valid rather than marking them
// invalid without evidence.
func (s *OrderService) resolveValid(ctx context.Context, orders []domain.Order, taken map[string]bool) map[string]bool {
	valid := make(map[string]bool, len(orders))
	for _, o := range orders {
		valid[o.Key()] = true
	}
	if !s.deriver.Policy().EnableValidityCheck {
		return valid
	}

	var pending []domain.Order
	for _, o := range orders {
		key := o.Key()
		if taken[key] || s.deriver.DeriveState(o, false, true) == domain.OrderStateExpired {
			continue
		}
		v, ok, err := s.cache.GetValid(ctx, key)
		if err == nil && ok {
			valid[key] = v
			continue
		}
		pending = append(pending, o)
	}
	if len(pending) == 0 {
		return valid
	}

	results, err := s.facts.OrdersValid(ctx, pending)
	if err != nil {
		s.logger.WarnContext(ctx, "batch validity check failed",
			slog.Int("orders", len(pending)),
			slog.String("error", err.Error()),
		)
		return valid
	}
	for i, o := range pending {
		key := o.Key()
		valid[key] = results[i]
		if err := s.cache.SetValid(ctx, key, results[i]); err != nil {
			s.logger.WarnContext(ctx, "cache validity failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return valid
}

func (s *OrderService) publish(ctx context.Context, views []domain.OrderView) {
	if s.bus == nil || len(views) == 0 {
		return
	}
	payload, err := domain.NewEvent("orders", views, time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal orders event", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelOrders, payload); err != nil {
		s.logger.WarnContext(ctx, "publish orders failed", slog.String("error", err.Error()))
	}
}

func (s *OrderService) notifyTaken(ctx context.Context, o domain.Order) {
	if s.notifier == nil {
		return
	}
	msg := fmt.Sprintf("Order %s for token %s #%s was taken", o.Key(), o.Signer.Token, o.Signer.ID)
	if err := s.notifier.Notify(ctx, EventOrderTaken, "Order taken", msg); err != nil {
		s.logger.WarnContext(ctx, "notify order taken failed", slog.String("error", err.Error()))
	}
}

// List returns stored order views matching q, with the total match count.
func (s *OrderService) List(ctx context.Context, q domain.OrderQuery) ([]domain.OrderView, int64, error) {
	q.Search = strings.TrimSpace(q.Search)
	views, err := s.store.List(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("order_service: list: %w", err)
	}
	total, err := s.store.Count(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("order_service: count: %w", err)
	}
	return views, total, nil
}

// Get returns a stored view with its state re-derived at the current time,
// so an order past its expiry reads expired before the next sync.
func (s *OrderService) Get(ctx context.Context, key string) (domain.OrderView, error) {
	v, err := s.store.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OrderView{}, err
		}
		return domain.OrderView{}, fmt.Errorf("order_service: get %s: %w", key, err)
	}
	return s.refresh(v), nil
}

func (s *OrderService) refresh(v domain.OrderView) domain.OrderView {
	state := s.deriver.DeriveState(v.Order, v.State == domain.OrderStateTaken, v.State != domain.OrderStateInvalid)
	if state != v.State {
		v.State = state
		v.Highlighted = v.Highlighted && state == domain.OrderStateOpen
		v.Label = orderstate.Label(state, v.Highlighted)
	}
	return v
}

// Run syncs on every tick until ctx is done. Failed syncs are logged and
// retried on the next tick.
func (s *OrderService) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "order sync failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
