package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOrder(nonce, id string) domain.Order {
	return domain.Order{
		Nonce:       nonce,
		Expiry:      "4102444800",
		Signer:      domain.Party{Wallet: "0xseller", Token: "0xnft", Kind: domain.KindERC721, ID: id},
		Sender:      domain.Party{Token: "0xUSDC", Kind: domain.KindERC20, Amount: "1000000"},
		ProtocolFee: "300",
		ChainID:     1,
	}
}

type memOrderStore struct {
	mu    sync.Mutex
	views map[string]domain.OrderView
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{views: map[string]domain.OrderView{}}
}

func (s *memOrderStore) Upsert(_ context.Context, v domain.OrderView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.views[v.Key]; ok {
		v.FirstSeenAt = old.FirstSeenAt
	} else {
		v.FirstSeenAt = v.UpdatedAt
	}
	s.views[v.Key] = v
	return nil
}

func (s *memOrderStore) GetByKey(_ context.Context, key string) (domain.OrderView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[key]
	if !ok {
		return domain.OrderView{}, fmt.Errorf("order %s: %w", key, domain.ErrNotFound)
	}
	return v, nil
}

func (s *memOrderStore) List(context.Context, domain.OrderQuery) ([]domain.OrderView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OrderView, 0, len(s.views))
	for _, v := range s.views {
		out = append(out, v)
	}
	return out, nil
}

func (s *memOrderStore) Count(context.Context, domain.OrderQuery) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.views)), nil
}

func (s *memOrderStore) ListClosedBefore(context.Context, time.Time) ([]domain.OrderView, error) {
	return nil, nil
}

func (s *memOrderStore) DeleteKeys(context.Context, []string) (int64, error) { return 0, nil }

type memFactCache struct {
	mu    sync.Mutex
	taken map[string]bool
	valid map[string]bool
}

func newMemFactCache() *memFactCache {
	return &memFactCache{taken: map[string]bool{}, valid: map[string]bool{}}
}

func (c *memFactCache) GetTaken(_ context.Context, keys []string) (map[string]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]bool{}
	for _, k := range keys {
		if c.taken[k] {
			out[k] = true
		}
	}
	return out, nil
}

func (c *memFactCache) SetTaken(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taken[key] = true
	return nil
}

func (c *memFactCache) GetValid(_ context.Context, key string) (bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.valid[key]
	return v, ok, nil
}

func (c *memFactCache) SetValid(_ context.Context, key string, valid bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid[key] = valid
	return nil
}

// memMarks treats every key first seen by this fake as newly listed.
type memMarks struct {
	seen  map[string]bool
	fresh map[string]bool
}

func newMemMarks(alreadySeen ...string) *memMarks {
	m := &memMarks{seen: map[string]bool{}, fresh: map[string]bool{}}
	for _, k := range alreadySeen {
		m.seen[k] = true
	}
	return m
}

func (m *memMarks) MarkNew(_ context.Context, key string) (bool, error) {
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	m.fresh[key] = true
	return true, nil
}

func (m *memMarks) IsNew(_ context.Context, keys []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, k := range keys {
		if m.fresh[k] {
			out[k] = true
		}
	}
	return out, nil
}

type recordingBus struct {
	mu        sync.Mutex
	published map[string]int
	streamed  map[string]int
}

func newRecordingBus() *recordingBus {
	return &recordingBus{published: map[string]int{}, streamed: map[string]int{}}
}

func (b *recordingBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel]++
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *recordingBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream]++
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *recordingBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[channel]
}

type nopAudit struct{}

func (nopAudit) Log(context.Context, string, string, map[string]any) error { return nil }

func (nopAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// feed is a settable amount with push subscriptions.
type feed struct {
	mu   sync.Mutex
	v    *big.Int
	err  error
	subs []chan *big.Int
}

func newFeed(v int64) *feed { return &feed{v: big.NewInt(v)} }

func (f *feed) Current(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.v), nil
}

func (f *feed) Subscribe() (<-chan *big.Int, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan *big.Int, 1)
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *feed) push(v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.v = big.NewInt(v)
	for _, ch := range f.subs {
		select {
		case ch <- big.NewInt(v):
		default:
		}
	}
}

type txSub struct {
	ch     chan domain.Transaction
	filter func(domain.Transaction) bool
}

type txFeed struct {
	mu   sync.Mutex
	subs []txSub
}

func (f *txFeed) Subscribe(filter func(domain.Transaction) bool) (<-chan domain.Transaction, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan domain.Transaction, 8)
	f.subs = append(f.subs, txSub{ch: ch, filter: filter})
	return ch, func() {}
}

func (f *txFeed) push(tx domain.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.filter(tx) {
			s.ch <- tx
		}
	}
}

type memPurchaseStore struct {
	mu        sync.Mutex
	purchases map[string]domain.Purchase
	events    map[string][]domain.PurchaseEvent
}

func newMemPurchaseStore() *memPurchaseStore {
	return &memPurchaseStore{
		purchases: map[string]domain.Purchase{},
		events:    map[string][]domain.PurchaseEvent{},
	}
}

func (s *memPurchaseStore) Create(_ context.Context, p domain.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.purchases[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.purchases[p.ID] = p
	return nil
}

func (s *memPurchaseStore) Update(_ context.Context, p domain.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[p.ID] = p
	return nil
}

func (s *memPurchaseStore) Get(_ context.Context, id string) (domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok {
		return domain.Purchase{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPurchaseStore) AppendEvent(_ context.Context, ev domain.PurchaseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.PurchaseID] = append(s.events[ev.PurchaseID], ev)
	return nil
}

func (s *memPurchaseStore) Events(_ context.Context, id string) ([]domain.PurchaseEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PurchaseEvent(nil), s.events[id]...), nil
}

func (s *memPurchaseStore) ListFinishedBefore(context.Context, time.Time) ([]domain.Purchase, error) {
	return nil, nil
}

func (s *memPurchaseStore) DeleteIDs(context.Context, []string) (int64, error) { return 0, nil }

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks { return &memLocks{held: map[string]bool{}} }

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrLockHeld)
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

func (l *memLocks) isHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}
