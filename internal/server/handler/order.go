package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/alanyoungcy/swapmarket/internal/service"
)

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	List(ctx context.Context, q domain.OrderQuery) ([]domain.OrderView, int64, error)
	Get(ctx context.Context, key string) (domain.OrderView, error)
	Sync(ctx context.Context) (service.SyncResult, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

type listOrdersResponse struct {
	Orders []domain.OrderView `json:"orders"`
	Total  int64              `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// ListOrders returns annotated orders.
// GET /api/orders?token=0x...&signer=0x...&state=open,taken&q=12&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := domain.OrderQuery{
		SignerToken:  q.Get("token"),
		SignerWallet: q.Get("signer"),
		Search:       q.Get("q"),
		ListOpts:     parseListOpts(r),
	}
	for _, raw := range q["state"] {
		for _, s := range strings.Split(raw, ",") {
			state := domain.OrderState(strings.TrimSpace(s))
			switch state {
			case domain.OrderStateOpen, domain.OrderStateTaken, domain.OrderStateExpired, domain.OrderStateInvalid:
				query.States = append(query.States, state)
			case "":
			default:
				writeError(w, http.StatusBadRequest, "unknown order state "+string(state))
				return
			}
		}
	}

	views, total, err := h.orders.List(r.Context(), query)
	if err != nil {
		writeServiceError(w, r, h.logger, "list orders", err)
		return
	}
	if views == nil {
		views = []domain.OrderView{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{
		Orders: views,
		Total:  total,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
}

// GetOrder returns one order by key.
// GET /api/orders/{key}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.orders.Get(r.Context(), r.PathValue("key"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SyncOrders pulls the indexers now instead of waiting for the next poll.
// POST /api/orders/sync
func (h *OrderHandler) SyncOrders(w http.ResponseWriter, r *http.Request) {
	res, err := h.orders.Sync(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "sync orders", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
