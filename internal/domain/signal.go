package domain

import (
	"encoding/json"
	"time"
)

// Signal bus channels.
const (
	ChannelOrders       = "orders"
	ChannelPurchases    = "purchases"
	ChannelTransactions = "transactions"

	// StreamPurchases is the durable stream of purchase transitions.
	StreamPurchases = "stream:purchases"
)

// Event is the envelope published on the signal bus and relayed to websocket
// clients.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// NewEvent marshals payload into an Event envelope.
func NewEvent(typ string, payload any, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Type: typ, Payload: raw, At: at})
}
