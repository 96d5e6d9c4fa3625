package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrLockHeld      = errors.New("lock already held")

	ErrUserRejected      = errors.New("rejected by user")
	ErrValidationFailed  = errors.New("order validation failed")
	ErrTransactionFailed = errors.New("transaction failed")
	ErrFeeOverflow       = errors.New("fee fraction must be below 100%")

	ErrActionInFlight      = errors.New("another action is in flight")
	ErrPurchaseClosed      = errors.New("purchase attempt is closed")
	ErrOwnOrder            = errors.New("order belongs to the buying account")
	ErrOrderNotOpen        = errors.New("order is not open")
	ErrInsufficientBalance = errors.New("insufficient currency balance")
)

// ValidationErrors is the list of reasons the swap contract gave for an order
// not being fillable. It matches ErrValidationFailed under errors.Is.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return ErrValidationFailed.Error() + ": " + strings.Join(v, ", ")
}

func (v ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}
