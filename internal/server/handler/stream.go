package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

// StreamReader reads entries from a durable event stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error)
}

// StreamHandler replays purchase events from the durable stream so clients
// that missed websocket frames can catch up.
type StreamHandler struct {
	streams StreamReader
	logger  *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(streams StreamReader, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{streams: streams, logger: logger}
}

type streamEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ReplayPurchases returns up to limit entries after the given stream ID.
// The response's last_id is the cursor for the next call.
// GET /api/streams/purchases?after=0&limit=100
func (h *StreamHandler) ReplayPurchases(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}

	msgs, err := h.streams.StreamRead(r.Context(), domain.StreamPurchases, after, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "read purchase stream", err)
		return
	}

	entries := make([]streamEntry, 0, len(msgs))
	lastID := after
	for _, m := range msgs {
		payload := json.RawMessage(m.Payload)
		if !json.Valid(payload) {
			h.logger.WarnContext(r.Context(), "skipping malformed stream entry", slog.String("id", m.ID))
			lastID = m.ID
			continue
		}
		entries = append(entries, streamEntry{ID: m.ID, Event: payload})
		lastID = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"last_id": lastID,
	})
}
