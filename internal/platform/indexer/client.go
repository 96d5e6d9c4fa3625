// Package indexer is a JSON-RPC client for order indexer servers.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPageSize = 100
	// maxPages bounds pagination against a server that misreports its total.
	maxPages = 50
)

// Client queries every configured indexer and merges the results.
type Client struct {
	urls       []string
	pageSize   int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the given server URLs.
func NewClient(urls []string, pageSize int, timeout time.Duration, logger *slog.Logger) *Client {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		urls:     urls,
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(slog.String("component", "indexer")),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is an error object returned by an indexer.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type ordersResult struct {
	Orders []domain.Order `json:"orders"`
	Offset int            `json:"offset"`
	Total  int            `json:"total"`
}

// GetOrders returns the orders matching filter from all servers, without
// duplicates. Servers that fail are logged and skipped; an error is returned
// only when every server fails.
func (c *Client) GetOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if len(c.urls) == 0 {
		return nil, fmt.Errorf("indexer: no servers configured")
	}

	results := make([][]domain.Order, len(c.urls))
	failures := make([]error, len(c.urls))

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range c.urls {
		g.Go(func() error {
			orders, err := c.getOrdersFrom(gctx, u, filter)
			if err != nil {
				c.logger.Warn("indexer query failed",
					slog.String("url", u),
					slog.String("error", err.Error()),
				)
				failures[i] = err
				return nil
			}
			results[i] = orders
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range failures {
		if err != nil {
			failed++
		}
	}
	if failed == len(c.urls) {
		return nil, fmt.Errorf("indexer: all %d servers failed: %w", failed, failures[0])
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("indexer: get orders: %w", err)
	}
	return dedupe(results), nil
}

// getOrdersFrom pages through one server. A non-zero filter.Limit caps the
// total number of orders returned.
func (c *Client) getOrdersFrom(ctx context.Context, url string, filter domain.OrderFilter) ([]domain.Order, error) {
	want := filter.Limit
	offset := filter.Offset
	var out []domain.Order

	for page := 0; page < maxPages; page++ {
		f := filter
		f.Offset = offset
		f.Limit = c.pageSize
		if want > 0 && want-len(out) < f.Limit {
			f.Limit = want - len(out)
		}

		var res ordersResult
		if err := c.call(ctx, url, "getOrders", []any{f}, &res); err != nil {
			return nil, err
		}
		out = append(out, res.Orders...)
		offset += len(res.Orders)

		switch {
		case len(res.Orders) == 0:
			return out, nil
		case want > 0 && len(out) >= want:
			return out[:want], nil
		case res.Total > 0 && offset >= res.Total:
			return out, nil
		case res.Total == 0 && len(res.Orders) < f.Limit:
			return out, nil
		}
	}
	return out, nil
}

// call performs one JSON-RPC 2.0 request and decodes the result into out.
func (c *Client) call(ctx context.Context, url, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// dedupe flattens per-server results, keeping the first copy of each key.
func dedupe(results [][]domain.Order) []domain.Order {
	seen := make(map[string]struct{})
	var out []domain.Order
	for _, orders := range results {
		for _, o := range orders {
			k := o.Key()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, o)
		}
	}
	return out
}
