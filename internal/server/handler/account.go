package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/alanyoungcy/swapmarket/internal/orderstate"
)

// AmountReader returns a current on-chain amount in base units.
type AmountReader interface {
	Current(ctx context.Context) (*big.Int, error)
}

// AccountHandler reports the buying account's currency position.
type AccountHandler struct {
	address   string
	decimals  int32
	balance   AmountReader
	allowance AmountReader
	logger    *slog.Logger
}

// NewAccountHandler creates an AccountHandler. decimals is the currency
// token's decimals.
func NewAccountHandler(address string, decimals int32, balance, allowance AmountReader, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		address:   address,
		decimals:  decimals,
		balance:   balance,
		allowance: allowance,
		logger:    logger,
	}
}

type accountResponse struct {
	Address             string `json:"address"`
	Balance             string `json:"balance"`
	ReadableBalance     string `json:"readable_balance"`
	Allowance           string `json:"allowance"`
	InsufficientBalance *bool  `json:"insufficient_balance,omitempty"`
}

// GetAccount returns the balance and allowance. With ?amount=1.5 it also
// reports whether the balance covers that human-entered amount.
// GET /api/account
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	balance, err := h.balance.Current(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "read balance", err)
		return
	}
	allowance, err := h.allowance.Current(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "read allowance", err)
		return
	}

	resp := accountResponse{
		Address:         h.address,
		Balance:         balance.String(),
		ReadableBalance: orderstate.FormatAmount(balance, h.decimals),
		Allowance:       allowance.String(),
	}
	if amount := strings.TrimSpace(r.URL.Query().Get("amount")); amount != "" {
		short := orderstate.InsufficientBalance(balance, amount, h.decimals)
		resp.InsufficientBalance = &short
	}
	writeJSON(w, http.StatusOK, resp)
}
