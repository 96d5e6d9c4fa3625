package chain

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

// AmountWatcher polls a token amount (an allowance or a balance) and keeps
// subscribers up to date with the latest value. Slow subscribers only ever
// see the newest value.
type AmountWatcher struct {
	name     string
	read     func(ctx context.Context) (*big.Int, error)
	interval time.Duration
	logger   *slog.Logger
	refresh  chan struct{}

	mu     sync.Mutex
	last   *big.Int
	subs   map[int]chan *big.Int
	nextID int
}

// NewAmountWatcher creates a watcher that calls read every interval.
func NewAmountWatcher(name string, read func(ctx context.Context) (*big.Int, error), interval time.Duration, logger *slog.Logger) *AmountWatcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &AmountWatcher{
		name:     name,
		read:     read,
		interval: interval,
		logger:   logger.With(slog.String("component", "watcher"), slog.String("watch", name)),
		refresh:  make(chan struct{}, 1),
		subs:     make(map[int]chan *big.Int),
	}
}

// Current returns the last known value, reading it when none is known yet.
func (w *AmountWatcher) Current(ctx context.Context) (*big.Int, error) {
	w.mu.Lock()
	last := w.last
	w.mu.Unlock()
	if last != nil {
		return new(big.Int).Set(last), nil
	}
	return w.fetch(ctx)
}

// Subscribe returns a feed of values. The current value, if known, is
// delivered first.
func (w *AmountWatcher) Subscribe() (<-chan *big.Int, func()) {
	ch := make(chan *big.Int, 1)
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subs[id] = ch
	if w.last != nil {
		ch <- new(big.Int).Set(w.last)
	}
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

// Refresh asks the watcher to read again without waiting for the next tick.
func (w *AmountWatcher) Refresh() {
	select {
	case w.refresh <- struct{}{}:
	default:
	}
}

// RefreshOn re-reads whenever the tracker reports a succeeded transaction
// accepted by match. It returns when ctx is done.
func (w *AmountWatcher) RefreshOn(ctx context.Context, t *Tracker, match func(domain.Transaction) bool) {
	feed, cancel := t.Subscribe(func(tx domain.Transaction) bool {
		return tx.Status == domain.TxSucceeded && match(tx)
	})
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-feed:
			w.Refresh()
		}
	}
}

// Run polls until ctx is cancelled.
func (w *AmountWatcher) Run(ctx context.Context) error {
	if _, err := w.fetch(ctx); err != nil {
		w.logger.Warn("initial read failed", slog.String("error", err.Error()))
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-w.refresh:
		}
		if _, err := w.fetch(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("read failed", slog.String("error", err.Error()))
		}
	}
}

func (w *AmountWatcher) fetch(ctx context.Context) (*big.Int, error) {
	v, err := w.read(ctx)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	changed := w.last == nil || w.last.Cmp(v) != 0
	w.last = new(big.Int).Set(v)
	if changed {
		for _, ch := range w.subs {
			// Replace any unread value with the newest one.
			select {
			case <-ch:
			default:
			}
			ch <- new(big.Int).Set(v)
		}
	}
	w.mu.Unlock()
	if changed {
		w.logger.Debug("value changed", slog.String("value", v.String()))
	}
	return new(big.Int).Set(v), nil
}
