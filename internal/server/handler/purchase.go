package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/alanyoungcy/swapmarket/internal/purchase"
	"github.com/alanyoungcy/swapmarket/internal/service"
)

// PurchaseService defines the purchase operations exposed over HTTP.
type PurchaseService interface {
	Start(ctx context.Context, orderKey string) (domain.Purchase, error)
	Click(ctx context.Context, id string) (purchase.Outcome, error)
	Get(ctx context.Context, id string) (service.PurchaseView, error)
	Dispose(id string) error
}

// PurchaseHandler serves purchase attempt endpoints.
type PurchaseHandler struct {
	purchases PurchaseService
	logger    *slog.Logger
}

// NewPurchaseHandler creates a PurchaseHandler.
func NewPurchaseHandler(purchases PurchaseService, logger *slog.Logger) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases, logger: logger}
}

type startPurchaseRequest struct {
	OrderKey string `json:"order_key"`
}

type clickResponse struct {
	State            domain.PurchaseState `json:"state"`
	ValidationErrors []string             `json:"validation_errors,omitempty"`
	Transaction      *domain.Transaction  `json:"transaction,omitempty"`
	Error            string               `json:"error,omitempty"`
}

// StartPurchase opens a purchase attempt for an order.
// POST /api/purchases {"order_key":"..."}
func (h *PurchaseHandler) StartPurchase(w http.ResponseWriter, r *http.Request) {
	var req startPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.OrderKey = strings.TrimSpace(req.OrderKey)
	if req.OrderKey == "" {
		writeError(w, http.StatusBadRequest, "order_key is required")
		return
	}

	p, err := h.purchases.Start(r.Context(), req.OrderKey)
	if err != nil {
		writeServiceError(w, r, h.logger, "start purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Click performs the next action of an attempt: approve the currency or
// validate and settle the order. Validation problems are returned with 200
// and the attempt back in details.
// POST /api/purchases/{id}/click
func (h *PurchaseHandler) Click(w http.ResponseWriter, r *http.Request) {
	out, err := h.purchases.Click(r.Context(), r.PathValue("id"))
	resp := clickResponse{
		State:            out.State,
		ValidationErrors: out.ValidationErrors,
		Transaction:      out.Transaction,
	}
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: click failed", slog.String("error", err.Error()))
		}
		resp.Error = err.Error()
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPurchase returns an attempt with its transition history.
// GET /api/purchases/{id}
func (h *PurchaseHandler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	view, err := h.purchases.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DisposePurchase ends an attempt and frees its order.
// DELETE /api/purchases/{id}
func (h *PurchaseHandler) DisposePurchase(w http.ResponseWriter, r *http.Request) {
	if err := h.purchases.Dispose(r.PathValue("id")); err != nil {
		writeServiceError(w, r, h.logger, "dispose purchase", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
