package domain

import "time"

// OrderState is the lifecycle state of an order at evaluation time. It is
// always derived from the order plus on-chain facts and never written back
// into the order itself.
type OrderState string

const (
	OrderStateOpen    OrderState = "open"
	OrderStateTaken   OrderState = "taken"
	OrderStateExpired OrderState = "expired"
	OrderStateInvalid OrderState = "invalid"
)

// Closed reports whether the order can never become fillable again.
func (s OrderState) Closed() bool {
	return s == OrderStateTaken || s == OrderStateExpired
}

// OrderFacts are the on-chain observations the state is derived from.
type OrderFacts struct {
	Taken bool `json:"taken"`
	Valid bool `json:"valid"`
}

// OrderView is an order annotated with its derived state, display label and
// the amount the buyer pays including fees.
type OrderView struct {
	Key           string     `json:"key"`
	Order         Order      `json:"order"`
	State         OrderState `json:"state"`
	Label         string     `json:"label,omitempty"`
	Highlighted   bool       `json:"highlighted"`
	TotalWithFees string     `json:"total_with_fees"`
	ReadableTotal string     `json:"readable_total,omitempty"`
	FirstSeenAt   time.Time  `json:"first_seen_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// OrderFilter narrows an indexer query or a stored order listing. Empty
// fields match everything.
type OrderFilter struct {
	ChainID      int64  `json:"chainId,omitempty"`
	SignerWallet string `json:"signerWallet,omitempty"`
	SignerToken  string `json:"signerToken,omitempty"`
	SignerID     string `json:"signerId,omitempty"`
	SenderWallet string `json:"senderWallet,omitempty"`
	SenderToken  string `json:"senderToken,omitempty"`
	Offset       int    `json:"offset,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderQuery selects stored orders.
type OrderQuery struct {
	SignerToken  string
	SignerWallet string
	States       []OrderState
	// Search matches a prefix of the signer token id.
	Search string
	ListOpts
}
