package domain

import "time"

// PurchaseState is the step a single buy attempt is at.
type PurchaseState string

const (
	PurchaseDetails   PurchaseState = "details"
	PurchaseApprove   PurchaseState = "approve"
	PurchaseApproving PurchaseState = "approving"
	PurchaseSign      PurchaseState = "sign"
	PurchaseBuying    PurchaseState = "buying"
	PurchaseSuccess   PurchaseState = "success"
	PurchaseFailed    PurchaseState = "failed"
)

// Terminal reports whether the attempt is finished. A new attempt is needed
// to retry.
func (s PurchaseState) Terminal() bool {
	return s == PurchaseSuccess || s == PurchaseFailed
}

// TxStatus is the observed status of a submitted transaction.
type TxStatus string

const (
	TxProcessing TxStatus = "processing"
	TxSucceeded  TxStatus = "succeeded"
	TxFailed     TxStatus = "failed"
)

// TxType distinguishes currency approvals from order settlements.
type TxType string

const (
	TxApproval TxType = "approval"
	TxOrder    TxType = "order"
)

// Transaction is a submitted transaction and its latest status.
type Transaction struct {
	Hash      string    `json:"hash"`
	Type      TxType    `json:"type"`
	OrderKey  string    `json:"order_key,omitempty"`
	Token     string    `json:"token,omitempty"`
	Status    TxStatus  `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Purchase is the persisted record of one buy attempt.
type Purchase struct {
	ID        string        `json:"id"`
	OrderKey  string        `json:"order_key"`
	Account   string        `json:"account"`
	State     PurchaseState `json:"state"`
	Required  string        `json:"required"`
	TxHash    string        `json:"tx_hash,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// PurchaseEvent is one state transition of a purchase attempt.
type PurchaseEvent struct {
	PurchaseID string        `json:"purchase_id"`
	From       PurchaseState `json:"from"`
	To         PurchaseState `json:"to"`
	Trigger    string        `json:"trigger"`
	Detail     string        `json:"detail,omitempty"`
	At         time.Time     `json:"at"`
}
