package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type denyAll struct{}

func (denyAll) Confirm(context.Context, Prompt) error { return domain.ErrUserRejected }

func TestGatewaySubmitsAndTracks(t *testing.T) {
	b := newFakeBackend()
	c := newTestClient(t, b)
	tr := NewTracker(c, nil, time.Hour, testLogger())
	gw := NewGateway(c, fakeSigner{addr: common.HexToAddress(buyerAddr)}, AutoConfirm{}, tr)
	ctx := context.Background()

	approval, err := gw.SubmitApproval(ctx, usdcAddr)
	if err != nil {
		t.Fatal(err)
	}
	if approval.Type != domain.TxApproval || approval.Status != domain.TxProcessing || approval.Token != usdcAddr {
		t.Fatalf("approval = %+v", approval)
	}

	order := testOrder()
	settle, err := gw.SubmitSettlement(ctx, order, buyerAddr)
	if err != nil {
		t.Fatal(err)
	}
	if settle.OrderKey != order.Key() || settle.Type != domain.TxOrder {
		t.Fatalf("settlement = %+v", settle)
	}
	if n := len(tr.Pending()); n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}
	if len(b.sent) != 2 || b.sent[1].Nonce() != 1 {
		t.Fatalf("sent %d txs", len(b.sent))
	}
}

func TestGatewayRejections(t *testing.T) {
	b := newFakeBackend()
	c := newTestClient(t, b)
	tr := NewTracker(c, nil, time.Hour, testLogger())
	gw := NewGateway(c, fakeSigner{addr: common.HexToAddress(buyerAddr)}, denyAll{}, tr)
	ctx := context.Background()

	if _, err := gw.SubmitApproval(ctx, usdcAddr); !errors.Is(err, domain.ErrUserRejected) {
		t.Fatalf("approval err = %v", err)
	}
	if _, err := gw.SubmitSettlement(ctx, testOrder(), buyerAddr); !errors.Is(err, domain.ErrUserRejected) {
		t.Fatalf("settlement err = %v", err)
	}
	if _, err := gw.SubmitSettlement(ctx, testOrder(), sellerAddr); err == nil || errors.Is(err, domain.ErrUserRejected) {
		t.Fatalf("foreign sender err = %v", err)
	}
	if len(b.sent) != 0 {
		t.Fatalf("sent %d txs after rejections", len(b.sent))
	}
}
