package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/models"
)

// Deposit credits amount to the user's cash balance and returns the new
// balance.
func (e *Engine) Deposit(ctx context.Context, userID int, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}

	var newBalance decimal.Decimal
	err := e.store.ExecTx(ctx, func(tx db.Tx) error {
		var err error
		newBalance, err = tx.AdjustWalletBalance(ctx, userID, amount)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	e.log.Infow("deposit", "user_id", userID, "amount", amount.String(), "balance", newBalance.String())
	return newBalance, nil
}

// Withdraw debits amount from the user's cash balance. The sufficiency
// check and the debit run in one transaction under the wallet row lock, so
// two concurrent withdrawals can never both pass the check against the
// same balance.
func (e *Engine) Withdraw(ctx context.Context, userID int, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}

	var newBalance decimal.Decimal
	err := e.store.ExecTx(ctx, func(tx db.Tx) error {
		balance, err := tx.LockWallet(ctx, userID)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return &InsufficientFundsError{Available: balance, Required: amount}
		}
		newBalance, err = tx.AdjustWalletBalance(ctx, userID, amount.Neg())
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	e.log.Infow("withdrawal", "user_id", userID, "amount", amount.String(), "balance", newBalance.String())
	return newBalance, nil
}

// Balance returns the current cash balance, or db.ErrWalletNotFound.
func (e *Engine) Balance(ctx context.Context, userID int) (decimal.Decimal, error) {
	wallet, err := e.store.GetWallet(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Balance, nil
}

// Position returns the net committed quantity of a symbol held by the
// user, derived from order history. Never negative for a consistent
// history.
func (e *Engine) Position(ctx context.Context, userID int, symbol string) (decimal.Decimal, error) {
	return e.store.PositionQuantity(ctx, userID, symbol)
}

// Orders returns the user's order history, newest first.
func (e *Engine) Orders(ctx context.Context, userID int) ([]models.Order, error) {
	return e.store.GetUserOrders(ctx, userID)
}
