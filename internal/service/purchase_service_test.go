package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

const buyer = "0xBuyer"

type fakeOrders map[string]domain.OrderView

func (f fakeOrders) Get(_ context.Context, key string) (domain.OrderView, error) {
	v, ok := f[key]
	if !ok {
		return domain.OrderView{}, domain.ErrNotFound
	}
	return v, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	problems  []string
	settleErr error
	calls     []string
}

func (g *fakeGateway) Account() string { return buyer }

func (g *fakeGateway) CheckOrder(context.Context, domain.Order, string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "check")
	return g.problems, nil
}

func (g *fakeGateway) SubmitApproval(_ context.Context, token string) (domain.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "approve")
	return domain.Transaction{Hash: "0xapprove", Type: domain.TxApproval, Token: token, Status: domain.TxProcessing}, nil
}

func (g *fakeGateway) SubmitSettlement(_ context.Context, o domain.Order, _ string) (domain.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "settle")
	if g.settleErr != nil {
		return domain.Transaction{}, g.settleErr
	}
	return domain.Transaction{Hash: "0xsettle", Type: domain.TxOrder, OrderKey: o.Key(), Status: domain.TxProcessing}, nil
}

type purchaseFixture struct {
	svc       *PurchaseService
	order     domain.Order
	orders    fakeOrders
	gw        *fakeGateway
	allowance *feed
	balance   *feed
	txs       *txFeed
	store     *memPurchaseStore
	locks     *memLocks
	bus       *recordingBus
	notifier  *recordingNotifier
}

func newPurchaseFixture(allowance, balance int64) *purchaseFixture {
	o := testOrder("7", "70")
	f := &purchaseFixture{
		order: o,
		orders: fakeOrders{
			o.Key(): {Key: o.Key(), Order: o, State: domain.OrderStateOpen},
		},
		gw:        &fakeGateway{},
		allowance: newFeed(allowance),
		balance:   newFeed(balance),
		txs:       &txFeed{},
		store:     newMemPurchaseStore(),
		locks:     newMemLocks(),
		bus:       newRecordingBus(),
		notifier:  &recordingNotifier{},
	}
	f.svc = NewPurchaseService(f.orders, f.gw, f.allowance, f.balance, f.txs,
		f.store, f.locks, f.bus, f.notifier,
		PurchaseServiceConfig{CurrencyToken: "0xusdc"}, testLogger())
	return f
}

func awaitState(t *testing.T, svc *PurchaseService, id string, want domain.PurchaseState) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := svc.Await(ctx, id, func(s domain.PurchaseState) bool { return s == want })
	if err != nil {
		t.Fatalf("await %s: state %s, %v", want, got, err)
	}
}

func TestStartGuards(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *purchaseFixture)
		wantErr error
	}{
		{"unknown order", func(f *purchaseFixture) { delete(f.orders, f.order.Key()) }, domain.ErrNotFound},
		{"own order", func(f *purchaseFixture) {
			v := f.orders[f.order.Key()]
			v.Order.Signer.Wallet = "0xbuyer"
			f.orders[f.order.Key()] = v
		}, domain.ErrOwnOrder},
		{"taken order", func(f *purchaseFixture) {
			v := f.orders[f.order.Key()]
			v.State = domain.OrderStateTaken
			f.orders[f.order.Key()] = v
		}, domain.ErrOrderNotOpen},
		{"other currency", func(f *purchaseFixture) {
			v := f.orders[f.order.Key()]
			v.Order.Sender.Token = "0xdai"
			f.orders[f.order.Key()] = v
		}, domain.ErrInvalidOrder},
		{"low balance", func(f *purchaseFixture) { f.balance.push(1030927) }, domain.ErrInsufficientBalance},
		{"fee overflow", func(f *purchaseFixture) {
			v := f.orders[f.order.Key()]
			v.Order.AffiliateAmount = "9700"
			f.orders[f.order.Key()] = v
		}, domain.ErrFeeOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPurchaseFixture(0, 2_000_000)
			tt.setup(f)
			_, err := f.svc.Start(context.Background(), f.order.Key())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if f.locks.isHeld("purchase:" + f.order.Key()) {
				t.Fatal("lock held after rejected start")
			}
		})
	}
}

func TestStartHoldsOrderLock(t *testing.T) {
	f := newPurchaseFixture(0, 2_000_000)
	p, err := f.svc.Start(context.Background(), f.order.Key())
	if err != nil {
		t.Fatal(err)
	}
	if p.State != domain.PurchaseDetails || p.Required != "1030928" || p.Account != buyer {
		t.Fatalf("purchase = %+v", p)
	}
	if _, err := f.svc.Start(context.Background(), f.order.Key()); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second start err = %v, want ErrLockHeld", err)
	}

	if err := f.svc.Dispose(p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Start(context.Background(), f.order.Key()); err != nil {
		t.Fatalf("start after dispose: %v", err)
	}
	if err := f.svc.Dispose("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("dispose unknown = %v", err)
	}
}

func TestPurchaseSettlesAndPersists(t *testing.T) {
	f := newPurchaseFixture(5_000_000, 2_000_000)
	p, err := f.svc.Start(context.Background(), f.order.Key())
	if err != nil {
		t.Fatal(err)
	}

	out, err := f.svc.Click(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Click: %v", err)
	}
	if out.State != domain.PurchaseBuying || out.Transaction == nil {
		t.Fatalf("outcome = %+v", out)
	}

	f.txs.push(domain.Transaction{Hash: "0xsettle", Type: domain.TxOrder, OrderKey: f.order.Key(), Status: domain.TxSucceeded})
	awaitState(t, f.svc, p.ID, domain.PurchaseSuccess)

	view, err := f.svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.State != domain.PurchaseSuccess || view.TxHash != "0xsettle" || view.Live == nil {
		t.Fatalf("view = %+v", view)
	}
	want := []domain.PurchaseState{domain.PurchaseSign, domain.PurchaseBuying, domain.PurchaseSuccess}
	if len(view.Events) != len(want) {
		t.Fatalf("events = %+v", view.Events)
	}
	for i, ev := range view.Events {
		if ev.To != want[i] {
			t.Fatalf("event %d to %s, want %s", i, ev.To, want[i])
		}
	}
	if stored, _ := f.store.Get(context.Background(), p.ID); stored.State != domain.PurchaseSuccess {
		t.Fatalf("stored state = %s", stored.State)
	}
	if f.locks.isHeld("purchase:" + f.order.Key()) {
		t.Fatal("lock not released after success")
	}
	if got := f.notifier.Events(); len(got) != 1 || got[0] != EventPurchaseSucceeded {
		t.Fatalf("notifications = %v", got)
	}
	if f.bus.count(domain.ChannelPurchases) != 3 {
		t.Fatalf("purchase events published %d times", f.bus.count(domain.ChannelPurchases))
	}

	if _, err := f.svc.Click(context.Background(), p.ID); !errors.Is(err, domain.ErrPurchaseClosed) {
		t.Fatalf("click after success = %v", err)
	}
}

func TestPurchaseApprovalRoundTrip(t *testing.T) {
	f := newPurchaseFixture(0, 2_000_000)
	p, err := f.svc.Start(context.Background(), f.order.Key())
	if err != nil {
		t.Fatal(err)
	}

	out, err := f.svc.Click(context.Background(), p.ID)
	if err != nil || out.State != domain.PurchaseApproving {
		t.Fatalf("click = %+v, %v", out, err)
	}
	f.allowance.push(1030928)
	awaitState(t, f.svc, p.ID, domain.PurchaseDetails)
}

func TestPurchaseSettlementFailure(t *testing.T) {
	f := newPurchaseFixture(5_000_000, 2_000_000)
	f.gw.settleErr = errors.New("nonce too low")
	p, err := f.svc.Start(context.Background(), f.order.Key())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Click(context.Background(), p.ID); !errors.Is(err, domain.ErrTransactionFailed) {
		t.Fatalf("click err = %v", err)
	}
	awaitState(t, f.svc, p.ID, domain.PurchaseFailed)

	view, _ := f.svc.Get(context.Background(), p.ID)
	if view.Error == "" {
		t.Fatal("failure reason not recorded")
	}
	if got := f.notifier.Events(); len(got) != 1 || got[0] != EventPurchaseFailed {
		t.Fatalf("notifications = %v", got)
	}
}

func TestGetAfterDisposeReadsStore(t *testing.T) {
	f := newPurchaseFixture(5_000_000, 2_000_000)
	p, err := f.svc.Start(context.Background(), f.order.Key())
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Dispose(p.ID); err != nil {
		t.Fatal(err)
	}
	view, err := f.svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Live != nil || view.State != domain.PurchaseDetails {
		t.Fatalf("view = %+v", view)
	}
	if _, err := f.svc.Click(context.Background(), p.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("click disposed = %v", err)
	}
}
