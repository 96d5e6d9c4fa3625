// Package orderstate derives the lifecycle state, display label and
// fee-inclusive price of swap orders.
package orderstate

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

// Labels shown for non-open orders.
const (
	LabelNewlyListed = "Newly listed"
	LabelExpired     = "Expired"
	LabelInvalid     = "Invalid"
	LabelTaken       = "Taken"
)

// Policy toggles optional derivation rules.
type Policy struct {
	// EnableValidityCheck lets a failed contract validity check mark an order
	// invalid. Off by default.
	EnableValidityCheck bool
}

// Deriver evaluates order states against an injected clock.
type Deriver struct {
	policy Policy
	now    func() time.Time
}

// NewDeriver creates a Deriver. A nil clock uses time.Now.
func NewDeriver(policy Policy, clock func() time.Time) *Deriver {
	if clock == nil {
		clock = time.Now
	}
	return &Deriver{policy: policy, now: clock}
}

// Policy returns the active policy.
func (d *Deriver) Policy() Policy {
	return d.policy
}

// DeriveState returns the state of o at the current clock reading.
func (d *Deriver) DeriveState(o domain.Order, isTaken, isValid bool) domain.OrderState {
	return DeriveStateAt(o, domain.OrderFacts{Taken: isTaken, Valid: isValid}, d.now(), d.policy)
}

// DeriveStateAt applies the derivation rules in priority order. Consumption
// on chain wins over everything, then expiry, then the optional validity
// check.
func DeriveStateAt(o domain.Order, facts domain.OrderFacts, now time.Time, p Policy) domain.OrderState {
	switch {
	case facts.Taken:
		return domain.OrderStateTaken
	case o.IsExpired(now):
		return domain.OrderStateExpired
	case p.EnableValidityCheck && !facts.Valid:
		return domain.OrderStateInvalid
	default:
		return domain.OrderStateOpen
	}
}

// Label returns the display label for a state. Highlighted orders always
// read "Newly listed"; open orders have no label.
func Label(state domain.OrderState, highlighted bool) string {
	if highlighted {
		return LabelNewlyListed
	}
	switch state {
	case domain.OrderStateExpired:
		return LabelExpired
	case domain.OrderStateInvalid:
		return LabelInvalid
	case domain.OrderStateTaken:
		return LabelTaken
	default:
		return ""
	}
}

// View builds the annotated order view. decimals is the currency token's
// decimals used for the readable total; a negative value skips it.
func (d *Deriver) View(o domain.Order, facts domain.OrderFacts, highlighted bool, decimals int32) (domain.OrderView, error) {
	total, err := TotalWithFees(o)
	if err != nil {
		return domain.OrderView{}, fmt.Errorf("orderstate: view %s: %w", o.Key(), err)
	}

	now := d.now()
	state := DeriveStateAt(o, facts, now, d.policy)
	v := domain.OrderView{
		Key:           o.Key(),
		Order:         o,
		State:         state,
		Label:         Label(state, highlighted),
		Highlighted:   highlighted,
		TotalWithFees: total.String(),
		UpdatedAt:     now.UTC(),
	}
	if decimals >= 0 {
		v.ReadableTotal = FormatAmount(total, decimals)
	}
	return v, nil
}
