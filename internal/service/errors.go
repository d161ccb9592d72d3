// Package service provides the business logic of the task cycle and ledger
// engine.
package service

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match these with errors.Is; the typed variants
// below carry the data the user-facing message needs.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("operation not allowed in current state")
	ErrUserBlocked       = errors.New("user is blocked")
	ErrNoEligibleTasks   = errors.New("no eligible task templates")
	ErrWithdrawLocked    = errors.New("withdrawal locked")
	ErrNotFound          = errors.New("not found")
)

// InsufficientFundsError reports a failed solvency check together with the
// shortfall the user must deposit.
type InsufficientFundsError struct {
	ShortfallCents int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: deposit %d more cents to continue", e.ShortfallCents)
}

// Is makes errors.Is(err, ErrInsufficientFunds) match.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// UserBlockedError reports that the cycle limit was reached, carrying the
// configured block message.
type UserBlockedError struct {
	Message string
}

func (e *UserBlockedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrUserBlocked.Error()
}

// Is makes errors.Is(err, ErrUserBlocked) match.
func (e *UserBlockedError) Is(target error) bool {
	return target == ErrUserBlocked
}

// WithdrawLockedError reports how many completed cycles remain before the
// next withdrawal unlocks.
type WithdrawLockedError struct {
	RemainingCycles int
	Reason          string
}

func (e *WithdrawLockedError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("withdrawals unlock after %d more cycle(s)", e.RemainingCycles)
}

// Is makes errors.Is(err, ErrWithdrawLocked) match.
func (e *WithdrawLockedError) Is(target error) bool {
	return target == ErrWithdrawLocked
}
