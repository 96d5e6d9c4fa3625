package chain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ReceiptSource looks up transaction receipts. ok is false while the
// transaction is still pending.
type ReceiptSource interface {
	Receipt(ctx context.Context, hash common.Hash) (r *types.Receipt, ok bool, err error)
}

type txSub struct {
	ch     chan domain.Transaction
	done   chan struct{}
	filter func(domain.Transaction) bool
}

// Tracker follows submitted transactions until they are mined and fans
// their status out to subscribers and the signal bus.
type Tracker struct {
	receipts ReceiptSource
	bus      domain.SignalBus
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]domain.Transaction
	subs    map[int]*txSub
	nextID  int
}

// NewTracker creates a Tracker polling receipts every interval. bus may be
// nil.
func NewTracker(receipts ReceiptSource, bus domain.SignalBus, interval time.Duration, logger *slog.Logger) *Tracker {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Tracker{
		receipts: receipts,
		bus:      bus,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "tx_tracker")),
		pending:  make(map[string]domain.Transaction),
		subs:     make(map[int]*txSub),
	}
}

// Track records a submitted transaction and publishes it as processing.
func (t *Tracker) Track(ctx context.Context, tx domain.Transaction) domain.Transaction {
	tx.Status = domain.TxProcessing
	tx.UpdatedAt = t.now().UTC()

	t.mu.Lock()
	t.pending[tx.Hash] = tx
	t.mu.Unlock()

	t.publish(ctx, tx)
	return tx
}

// Pending returns the transactions not yet mined.
func (t *Tracker) Pending() []domain.Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Transaction, 0, len(t.pending))
	for _, tx := range t.pending {
		out = append(out, tx)
	}
	return out
}

// Subscribe returns a feed of status updates accepted by filter (nil
// accepts all) and a function that cancels the subscription.
func (t *Tracker) Subscribe(filter func(domain.Transaction) bool) (<-chan domain.Transaction, func()) {
	s := &txSub{
		ch:     make(chan domain.Transaction, 16),
		done:   make(chan struct{}),
		filter: filter,
	}
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = s
	t.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(s.done)
		})
	}
}

// Run polls pending receipts until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.poll(ctx)
		}
	}
}

func (t *Tracker) poll(ctx context.Context) {
	for _, tx := range t.Pending() {
		r, ok, err := t.receipts.Receipt(ctx, common.HexToHash(tx.Hash))
		if err != nil {
			t.logger.Warn("receipt lookup failed",
				slog.String("hash", tx.Hash),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			continue
		}

		if r.Status == types.ReceiptStatusSuccessful {
			tx.Status = domain.TxSucceeded
		} else {
			tx.Status = domain.TxFailed
			tx.Reason = "reverted"
		}
		tx.UpdatedAt = t.now().UTC()

		t.mu.Lock()
		delete(t.pending, tx.Hash)
		t.mu.Unlock()

		t.logger.Info("transaction mined",
			slog.String("hash", tx.Hash),
			slog.String("type", string(tx.Type)),
			slog.String("status", string(tx.Status)),
			slog.Uint64("block", r.BlockNumber.Uint64()),
		)
		t.publish(ctx, tx)
	}
}

func (t *Tracker) publish(ctx context.Context, tx domain.Transaction) {
	t.mu.Lock()
	subs := make([]*txSub, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		if s.filter != nil && !s.filter(tx) {
			continue
		}
		select {
		case s.ch <- tx:
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}

	if t.bus == nil {
		return
	}
	payload, err := domain.NewEvent("transaction", tx, tx.UpdatedAt)
	if err != nil {
		t.logger.Error("encode transaction event", slog.String("error", err.Error()))
		return
	}
	if err := t.bus.Publish(ctx, domain.ChannelTransactions, payload); err != nil {
		t.logger.Warn("publish transaction event",
			slog.String("hash", tx.Hash),
			slog.String("error", err.Error()),
		)
	}
}
