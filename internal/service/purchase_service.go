package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/alanyoungcy/swapmarket/internal/orderstate"
	"github.com/alanyoungcy/swapmarket/internal/purchase"
)

// Notification event types.
const (
	EventPurchaseSucceeded = "purchase_succeeded"
	EventPurchaseFailed    = "purchase_failed"
	EventOrderTaken        = "order_taken"
)

const (
	defaultLockTTL = 15 * time.Minute
	storeTimeout   = 5 * time.Second
)

// OrderReader looks up a stored order view by key.
type OrderReader interface {
	Get(ctx context.Context, key string) (domain.OrderView, error)
}

// AmountFeed is a polled on-chain amount such as an allowance or balance.
type AmountFeed interface {
	Current(ctx context.Context) (*big.Int, error)
	Subscribe() (<-chan *big.Int, func())
}

// TxFeed streams transaction status updates.
type TxFeed interface {
	Subscribe(filter func(domain.Transaction) bool) (<-chan domain.Transaction, func())
}

// PurchaseGateway is the chain gateway bound to the buying account.
type PurchaseGateway interface {
	purchase.Gateway
	Account() string
}

// PurchaseServiceConfig holds purchase settings.
type PurchaseServiceConfig struct {
	CurrencyToken string
	// LockTTL bounds how long one attempt holds the order lock.
	LockTTL time.Duration
}

// PurchaseView is a purchase record with its live status while the attempt
// is registered, and its transition history.
type PurchaseView struct {
	domain.Purchase
	Live   *purchase.Status       `json:"live,omitempty"`
	Events []domain.PurchaseEvent `json:"events,omitempty"`
}

type attempt struct {
	ctrl *purchase.Controller

	mu      sync.Mutex
	unlock  func()
	record  domain.Purchase
	changed chan struct{}
	closed  bool
	// settled is the last state whose transition has been fully handled.
	settled domain.PurchaseState
}

// PurchaseService runs purchase attempts: one controller per attempt, at
// most one attempt per order across every process sharing the lock manager.
type PurchaseService struct {
	orders    OrderReader
	gw        PurchaseGateway
	allowance AmountFeed
	balance   AmountFeed
	txs       TxFeed
	store     domain.PurchaseStore
	locks     domain.LockManager
	bus       domain.SignalBus
	notifier  Notifier
	cfg       PurchaseServiceConfig
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	attempts map[string]*attempt
}

// NewPurchaseService creates a PurchaseService. bus and notifier may be nil.
func NewPurchaseService(
	orders OrderReader,
	gw PurchaseGateway,
	allowance AmountFeed,
	balance AmountFeed,
	txs TxFeed,
	store domain.PurchaseStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	notifier Notifier,
	cfg PurchaseServiceConfig,
	logger *slog.Logger,
) *PurchaseService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &PurchaseService{
		orders:    orders,
		gw:        gw,
		allowance: allowance,
		balance:   balance,
		txs:       txs,
		store:     store,
		locks:     locks,
		bus:       bus,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "purchase_service")),
		attempts:  make(map[string]*attempt),
	}
}

// Start opens a purchase attempt for an open order not owned by the buying
// account. The attempt starts in details.
func (s *PurchaseService) Start(ctx context.Context, orderKey string) (domain.Purchase, error) {
	view, err := s.orders.Get(ctx, orderKey)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("purchase_service: order %s: %w", orderKey, err)
	}
	order := view.Order
	account := s.gw.Account()

	if domain.SameAddress(order.Signer.Wallet, account) {
		return domain.Purchase{}, fmt.Errorf("purchase_service: order %s: %w", orderKey, domain.ErrOwnOrder)
	}
	if view.State != domain.OrderStateOpen {
		return domain.Purchase{}, fmt.Errorf("purchase_service: order %s is %s: %w", orderKey, view.State, domain.ErrOrderNotOpen)
	}
	if s.cfg.CurrencyToken != "" && !domain.SameAddress(order.Sender.Token, s.cfg.CurrencyToken) {
		return domain.Purchase{}, fmt.Errorf("purchase_service: order %s is priced in %s: %w",
			orderKey, order.Sender.Token, domain.ErrInvalidOrder)
	}

	required, err := orderstate.TotalWithFees(order)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("purchase_service: order %s total: %w", orderKey, err)
	}
	balance, err := s.balance.Current(ctx)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("purchase_service: balance: %w", err)
	}
	if balance.Cmp(required) < 0 {
		return domain.Purchase{}, fmt.Errorf("purchase_service: balance %s below %s: %w",
			balance, required, domain.ErrInsufficientBalance)
	}

	unlock, err := s.locks.Acquire(ctx, "purchase:"+orderKey, s.cfg.LockTTL)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("purchase_service: order %s: %w", orderKey, err)
	}

	allowance, err := s.allowance.Current(ctx)
	if err != nil {
		unlock()
		return domain.Purchase{}, fmt.Errorf("purchase_service: allowance: %w", err)
	}

	ctrl, err := purchase.New(purchase.Config{
		Order:     order,
		Account:   account,
		Required:  required,
		Allowance: allowance,
		Clock:     s.now,
	}, s.gw, s.logger)
	if err != nil {
		unlock()
		return domain.Purchase{}, fmt.Errorf("purchase_service: %w", err)
	}

	now := s.now().UTC()
	rec := domain.Purchase{
		ID:        uuid.NewString(),
		OrderKey:  orderKey,
		Account:   account,
		State:     domain.PurchaseDetails,
		Required:  required.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		unlock()
		return domain.Purchase{}, fmt.Errorf("purchase_service: %w", err)
	}

	a := &attempt{
		ctrl:    ctrl,
		unlock:  unlock,
		record:  rec,
		changed: make(chan struct{}),
		settled: rec.State,
	}
	ctrl.OnTransition(func(tr purchase.Transition) { s.onTransition(a, tr) })

	s.mu.Lock()
	s.attempts[rec.ID] = a
	s.mu.Unlock()

	allowances, stopAllowance := s.allowance.Subscribe()
	txs, stopTxs := s.txs.Subscribe(func(tx domain.Transaction) bool {
		if tx.Type == domain.TxApproval {
			return domain.SameAddress(tx.Token, order.Sender.Token)
		}
		return tx.OrderKey == orderKey
	})
	ctrl.Watch(context.Background(), allowances, txs, stopAllowance, stopTxs)

	s.logger.InfoContext(ctx, "purchase started",
		slog.String("purchase_id", rec.ID),
		slog.String("order_key", orderKey),
		slog.String("required", rec.Required),
	)
	return rec, nil
}

// Click performs the next user action of an attempt.
func (s *PurchaseService) Click(ctx context.Context, id string) (purchase.Outcome, error) {
	a, err := s.attempt(id)
	if err != nil {
		return purchase.Outcome{}, err
	}
	return a.ctrl.Click(ctx)
}

// Get returns a purchase with its history. Registered attempts include
// their live controller status.
func (s *PurchaseService) Get(ctx context.Context, id string) (PurchaseView, error) {
	var view PurchaseView
	if a, err := s.attempt(id); err == nil {
		st := a.ctrl.Status()
		a.mu.Lock()
		view.Purchase = a.record
		a.mu.Unlock()
		view.Live = &st
	} else {
		p, err := s.store.Get(ctx, id)
		if err != nil {
			return PurchaseView{}, fmt.Errorf("purchase_service: %w", err)
		}
		view.Purchase = p
	}
	events, err := s.store.Events(ctx, id)
	if err != nil {
		return PurchaseView{}, fmt.Errorf("purchase_service: %w", err)
	}
	view.Events = events
	return view, nil
}

// Await blocks until the attempt reaches a state accepted by done, the
// attempt is disposed, or ctx ends.
func (s *PurchaseService) Await(ctx context.Context, id string, done func(domain.PurchaseState) bool) (domain.PurchaseState, error) {
	a, err := s.attempt(id)
	if err != nil {
		return "", err
	}
	for {
		a.mu.Lock()
		state, changed, closed := a.settled, a.changed, a.closed
		a.mu.Unlock()
		if done(state) {
			return state, nil
		}
		if closed {
			return state, domain.ErrPurchaseClosed
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-changed:
		}
	}
}

// Dispose ends an attempt: its subscriptions are released, the order lock
// is freed and late results are ignored. The persisted record keeps its
// last state.
func (s *PurchaseService) Dispose(id string) error {
	s.mu.Lock()
	a, ok := s.attempts[id]
	delete(s.attempts, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("purchase_service: purchase %s: %w", id, domain.ErrNotFound)
	}
	s.close(a)
	return nil
}

// Close disposes every registered attempt.
func (s *PurchaseService) Close() {
	s.mu.Lock()
	attempts := s.attempts
	s.attempts = make(map[string]*attempt)
	s.mu.Unlock()
	for _, a := range attempts {
		s.close(a)
	}
}

func (s *PurchaseService) close(a *attempt) {
	a.ctrl.Dispose()
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.changed)
	}
	a.mu.Unlock()
	a.releaseLock()
}

// signal records state as handled and wakes Await callers.
func (a *attempt) signal(state domain.PurchaseState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = state
	if !a.closed {
		close(a.changed)
		a.changed = make(chan struct{})
	}
}

// releaseLock frees the order lock once.
func (a *attempt) releaseLock() {
	a.mu.Lock()
	unlock := a.unlock
	a.unlock = nil
	a.mu.Unlock()
	if unlock != nil {
		unlock()
	}
}

func (s *PurchaseService) attempt(id string) (*attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, fmt.Errorf("purchase_service: purchase %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

// onTransition persists and broadcasts one transition. It runs on the
// goroutine that applied the transition, outside the controller lock.
func (s *PurchaseService) onTransition(a *attempt, tr purchase.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	st := a.ctrl.Status()
	a.mu.Lock()
	a.record.State = tr.To
	a.record.UpdatedAt = tr.At.UTC()
	a.record.TxHash = st.SettlementTx
	if a.record.TxHash == "" {
		a.record.TxHash = st.ApprovalTx
	}
	a.record.Error = st.Error
	rec := a.record
	a.mu.Unlock()
	defer a.signal(tr.To)

	ev := domain.PurchaseEvent{
		PurchaseID: rec.ID,
		From:       tr.From,
		To:         tr.To,
		Trigger:    tr.Trigger,
		Detail:     tr.Detail,
		At:         tr.At.UTC(),
	}
	log := s.logger.With(slog.String("purchase_id", rec.ID))
	if err := s.store.Update(ctx, rec); err != nil {
		log.ErrorContext(ctx, "persist purchase failed", slog.String("error", err.Error()))
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		log.ErrorContext(ctx, "persist purchase event failed", slog.String("error", err.Error()))
	}
	s.broadcast(ctx, ev)

	log.DebugContext(ctx, "purchase transition persisted",
		slog.String("from", string(tr.From)),
		slog.String("to", string(tr.To)),
		slog.String("trigger", tr.Trigger),
	)

	if tr.To.Terminal() {
		s.finish(ctx, a, rec)
	}
}

func (s *PurchaseService) broadcast(ctx context.Context, ev domain.PurchaseEvent) {
	if s.bus == nil {
		return
	}
	payload, err := domain.NewEvent("purchase", ev, ev.At)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal purchase event", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamPurchases, payload); err != nil {
		s.logger.WarnContext(ctx, "append purchase stream failed", slog.String("error", err.Error()))
	}
	if err := s.bus.Publish(ctx, domain.ChannelPurchases, payload); err != nil {
		s.logger.WarnContext(ctx, "publish purchase failed", slog.String("error", err.Error()))
	}
}

// finish frees the order lock of a terminal attempt and notifies. The
// attempt stays registered for status reads until disposed.
func (s *PurchaseService) finish(ctx context.Context, a *attempt, rec domain.Purchase) {
	a.releaseLock()

	if s.notifier == nil {
		return
	}
	event, title := EventPurchaseSucceeded, "Purchase succeeded"
	msg := fmt.Sprintf("Order %s bought for %s (tx %s)", rec.OrderKey, rec.Required, rec.TxHash)
	if rec.State == domain.PurchaseFailed {
		event, title = EventPurchaseFailed, "Purchase failed"
		msg = fmt.Sprintf("Order %s: %s", rec.OrderKey, rec.Error)
	}
	if err := s.notifier.Notify(ctx, event, title, msg); err != nil {
		s.logger.WarnContext(ctx, "notify purchase failed", slog.String("error", err.Error()))
	}
}
