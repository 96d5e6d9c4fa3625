package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func order(nonce, id string) domain.Order {
	return domain.Order{
		Nonce:  nonce,
		Signer: domain.Party{Token: "0xnft", ID: id},
	}
}

// indexerServer serves getOrders over a fixed order list, honouring offset
// and limit, and records the filters it receives.
func indexerServer(t *testing.T, orders []domain.Order, seen *[]domain.OrderFilter) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     string               `json:"id"`
			Method string               `json:"method"`
			Params []domain.OrderFilter `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Method != "getOrders" || len(req.Params) != 1 || req.ID == "" {
			t.Errorf("unexpected request %+v", req)
		}
		f := req.Params[0]
		if seen != nil {
			*seen = append(*seen, f)
		}
		end := min(f.Offset+f.Limit, len(orders))
		page := []domain.Order{}
		if f.Offset < len(orders) {
			page = orders[f.Offset:end]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]any{
				"orders": page,
				"offset": f.Offset,
				"total":  len(orders),
			},
		})
	}))
}

func TestGetOrdersPaginates(t *testing.T) {
	var orders []domain.Order
	for i := 0; i < 5; i++ {
		orders = append(orders, order(strconv.Itoa(i), "1"))
	}
	var seen []domain.OrderFilter
	srv := indexerServer(t, orders, &seen)
	defer srv.Close()

	c := NewClient([]string{srv.URL}, 2, time.Second, testLogger())
	got, err := c.GetOrders(context.Background(), domain.OrderFilter{ChainID: 1, SignerToken: "0xnft"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d orders, want 5", len(got))
	}
	if len(seen) != 3 {
		t.Fatalf("made %d requests, want 3", len(seen))
	}
	if seen[0].SignerToken != "0xnft" || seen[0].ChainID != 1 || seen[2].Offset != 4 {
		t.Fatalf("filters = %+v", seen)
	}
}

func TestGetOrdersRespectsLimit(t *testing.T) {
	var orders []domain.Order
	for i := 0; i < 10; i++ {
		orders = append(orders, order(strconv.Itoa(i), "1"))
	}
	srv := indexerServer(t, orders, nil)
	defer srv.Close()

	c := NewClient([]string{srv.URL}, 4, time.Second, testLogger())
	got, err := c.GetOrders(context.Background(), domain.OrderFilter{Limit: 6})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 6 {
		t.Fatalf("got %d orders, want 6", len(got))
	}
}

func TestGetOrdersMergesAndToleratesFailures(t *testing.T) {
	a := indexerServer(t, []domain.Order{order("1", "1"), order("2", "1")}, nil)
	defer a.Close()
	b := indexerServer(t, []domain.Order{order("2", "1"), order("3", "1")}, nil)
	defer b.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer broken.Close()

	c := NewClient([]string{a.URL, broken.URL, b.URL}, 10, time.Second, testLogger())
	got, err := c.GetOrders(context.Background(), domain.OrderFilter{})
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, o := range got {
		keys = append(keys, o.Key())
	}
	want := []string{"1:0xnft:1", "2:0xnft:1", "3:0xnft:1"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestGetOrdersAllFail(t *testing.T) {
	rpcErr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"x","error":{"code":-32601,"message":"method not found"}}`))
	}))
	defer rpcErr.Close()

	c := NewClient([]string{rpcErr.URL}, 10, time.Second, testLogger())
	_, err := c.GetOrders(context.Background(), domain.OrderFilter{})
	var re *RPCError
	if !errors.As(err, &re) || re.Code != -32601 {
		t.Fatalf("err = %v, want RPCError -32601", err)
	}

	if _, err := NewClient(nil, 10, time.Second, testLogger()).GetOrders(context.Background(), domain.OrderFilter{}); err == nil {
		t.Fatal("expected error with no servers")
	}
}
