package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/gorilla/websocket"
)

type chanBus struct {
	chans map[string]chan []byte
}

func newChanBus() *chanBus {
	b := &chanBus{chans: make(map[string]chan []byte)}
	for _, ch := range Channels {
		b.chans[ch] = make(chan []byte, 4)
	}
	return b
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }
func (b *chanBus) Subscribe(_ context.Context, ch string) (<-chan []byte, error) {
	return b.chans[ch], nil
}
func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type received struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("frame type = %d, want text", kind)
	}
	var msg received
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestHubRelaysEvents(t *testing.T) {
	bus := newChanBus()
	hub := NewHub(bus, Config{Mode: "serve", ChainID: 11155111}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := readFrame(t, conn)
	if hello.Type != "hello" {
		t.Fatalf("first frame type = %q", hello.Type)
	}
	var info struct {
		Mode    string `json:"mode"`
		ChainID int64  `json:"chain_id"`
	}
	json.Unmarshal(hello.Payload, &info)
	if info.Mode != "serve" || info.ChainID != 11155111 {
		t.Errorf("hello payload = %+v", info)
	}

	ev, err := domain.NewEvent("orders", map[string]int{"count": 2}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	bus.chans[domain.ChannelOrders] <- ev

	got := readFrame(t, conn)
	if got.Channel != domain.ChannelOrders || got.Type != "orders" {
		t.Errorf("frame = %+v", got)
	}
	if string(got.Payload) != `{"count":2}` {
		t.Errorf("payload = %s", got.Payload)
	}
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelOrders: true}}

	c.apply(control{Action: "subscribe", Channels: []string{domain.ChannelTransactions}})
	c.apply(control{Action: "UNSUBSCRIBE", Channels: []string{domain.ChannelOrders}})
	c.apply(control{Action: "noop", Channels: []string{domain.ChannelPurchases}})

	want := map[string]bool{
		domain.ChannelOrders:       false,
		domain.ChannelPurchases:    false,
		domain.ChannelTransactions: true,
	}
	for ch, sub := range want {
		if c.isSubscribed(ch) != sub {
			t.Errorf("isSubscribed(%q) = %v, want %v", ch, !sub, sub)
		}
	}
}

func TestWrapRejectsMalformed(t *testing.T) {
	if _, err := wrap(domain.ChannelOrders, []byte("not json")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
