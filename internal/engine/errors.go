package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount rejects a zero or negative amount or quantity. Checked
// before any storage round-trip.
var ErrInvalidAmount = errors.New("amount must be greater than zero")

// ErrInvalidSide rejects order sides other than "buy" and "sell"
var ErrInvalidSide = errors.New(`side must be "buy" or "sell"`)

// SymbolNotFoundError means the price oracle has no data for a symbol.
type SymbolNotFoundError struct {
	Symbol string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("no price available for symbol %q", e.Symbol)
}

// InsufficientFundsError is a business rejection: the wallet balance cannot
// cover the required total. Carries both figures so callers can adjust and
// resubmit.
type InsufficientFundsError struct {
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, required %s",
		e.Available.String(), e.Required.String())
}

// InsufficientAssetsError is a business rejection: the derived position
// cannot cover the quantity being sold.
type InsufficientAssetsError struct {
	Symbol    string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientAssetsError) Error() string {
	return fmt.Sprintf("insufficient %s to sell: available %s, required %s",
		e.Symbol, e.Available.String(), e.Required.String())
}

// InconsistentPositionError reports a negative derived position. That can
// only happen if the order history was corrupted, so it is surfaced as an
// internal fault rather than clamped.
type InconsistentPositionError struct {
	Symbol   string
	Quantity decimal.Decimal
}

func (e *InconsistentPositionError) Error() string {
	return fmt.Sprintf("internal inconsistency: negative position %s for symbol %q",
		e.Quantity.String(), e.Symbol)
}

// ExecutionError means the store transaction failed after exhausting
// retries. No partial state persists, so the whole request is safe to
// retry.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("order execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
