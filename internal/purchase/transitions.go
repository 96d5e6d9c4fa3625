package purchase

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

// legalTransitions lists every state change the controller may make. The
// settlement status of a submitted order can move any live attempt to buying,
// success or failed. Terminal states have no outgoing edges.
var legalTransitions = map[domain.PurchaseState]map[domain.PurchaseState]bool{
	domain.PurchaseDetails: {
		domain.PurchaseApprove: true,
		domain.PurchaseSign:    true,
		domain.PurchaseBuying:  true,
		domain.PurchaseSuccess: true,
		domain.PurchaseFailed:  true,
	},
	domain.PurchaseApprove: {
		domain.PurchaseApproving: true,
		domain.PurchaseDetails:   true,
		domain.PurchaseBuying:    true,
		domain.PurchaseSuccess:   true,
		domain.PurchaseFailed:    true,
	},
	domain.PurchaseApproving: {
		domain.PurchaseDetails: true,
		domain.PurchaseBuying:  true,
		domain.PurchaseSuccess: true,
		domain.PurchaseFailed:  true,
	},
	domain.PurchaseSign: {
		domain.PurchaseDetails: true,
		domain.PurchaseBuying:  true,
		domain.PurchaseSuccess: true,
		domain.PurchaseFailed:  true,
	},
	domain.PurchaseBuying: {
		domain.PurchaseSuccess: true,
		domain.PurchaseFailed:  true,
	},
	domain.PurchaseSuccess: {},
	domain.PurchaseFailed:  {},
}

// validateTransition reports whether from -> to is allowed.
func validateTransition(from, to domain.PurchaseState) error {
	next, ok := legalTransitions[from]
	if !ok {
		return fmt.Errorf("purchase: unknown state %q", from)
	}
	if !next[to] {
		return fmt.Errorf("purchase: illegal transition %s -> %s", from, to)
	}
	return nil
}

// Trigger names recorded on transitions.
const (
	TriggerClick          = "click"
	TriggerApprovalSent   = "approval_submitted"
	TriggerApprovalReject = "approval_rejected"
	TriggerApprovalFailed = "approval_failed"
	TriggerAllowance      = "allowance_sufficient"
	TriggerCheckFailed    = "validation_failed"
	TriggerSettleReject   = "settlement_rejected"
	TriggerSettleFailed   = "settlement_failed"
	TriggerTxProcessing   = "tx_processing"
	TriggerTxSucceeded    = "tx_succeeded"
	TriggerTxFailed       = "tx_failed"
	TriggerUnexpected     = "unexpected_error"
)

// Transition is one applied state change.
type Transition struct {
	From    domain.PurchaseState
	To      domain.PurchaseState
	Trigger string
	Detail  string
	At      time.Time
}
