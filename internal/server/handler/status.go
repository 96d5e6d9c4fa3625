package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves static runtime metadata for dashboards.
type StatusHandler struct {
	Mode      string
	ChainID   int64
	Account   string
	StartedAt time.Time

	// Clients reports connected websocket clients. Optional.
	Clients func() int
}

// GetStatus responds with the running mode, chain and buying account.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.Mode,
		"chain_id":       h.ChainID,
		"account":        h.Account,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	}
	if h.Clients != nil {
		resp["ws_clients"] = h.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}
