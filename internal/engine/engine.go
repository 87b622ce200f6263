// Package engine implements the account ledger and order execution core:
// cash deposits and withdrawals, atomic order execution at oracle prices,
// and portfolio valuation. A position is always derived by folding the
// append-only order history — there is no mutable holdings counter to
// drift out of sync.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/models"
	"github.com/xtrntr/brokerage/internal/oracle"
)

// Order sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

const defaultMaxRetries = 3

// Engine coordinates wallet mutations and order execution against the
// transactional store. It is stateless and safe for concurrent use: the
// store's per-wallet row lock serializes executions on the same account,
// including across service instances, while different accounts proceed in
// parallel.
type Engine struct {
	store      db.Store
	oracle     oracle.Oracle
	log        *zap.SugaredLogger
	maxRetries int
}

// New creates an engine on top of a store and a price oracle.
func New(store db.Store, orc oracle.Oracle, log *zap.SugaredLogger) *Engine {
	return &Engine{
		store:      store,
		oracle:     orc,
		log:        log,
		maxRetries: defaultMaxRetries,
	}
}

// Execute fills an order instantly at the current oracle price. The
// affordability (buy) or availability (sell) check, the balance adjustment
// and the order append all happen inside one store transaction, so no
// concurrent execution on the same account can observe or create partial
// state. On a serialization conflict the whole transaction is retried with
// freshly read state; business rejections are never retried.
func (e *Engine) Execute(ctx context.Context, userID int, symbol, side string, quantity decimal.Decimal) (*models.Order, error) {
	if side != SideBuy && side != SideSell {
		return nil, ErrInvalidSide
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	// One price per execution: fetched here, never re-read mid-transaction,
	// so retries re-check funds but fill at the same quote.
	price, ok := e.oracle.GetPrice(ctx, symbol)
	if !ok {
		return nil, &SymbolNotFoundError{Symbol: symbol}
	}
	total := quantity.Mul(price)

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		order := &models.Order{
			ID:               uuid.New().String(),
			UserID:           userID,
			Symbol:           symbol,
			Side:             side,
			Quantity:         quantity,
			PriceAtExecution: price,
			Total:            total,
		}

		err := e.store.ExecTx(ctx, func(tx db.Tx) error {
			// The wallet row lock is taken first for sells as well as buys:
			// it serializes every execution on this account, so the position
			// read below cannot race a concurrent order.
			balance, err := tx.LockWallet(ctx, userID)
			if err != nil {
				return err
			}

			if side == SideBuy {
				if balance.LessThan(total) {
					return &InsufficientFundsError{Available: balance, Required: total}
				}
				if _, err := tx.AdjustWalletBalance(ctx, userID, total.Neg()); err != nil {
					return err
				}
			} else {
				position, err := tx.PositionQuantity(ctx, userID, symbol)
				if err != nil {
					return err
				}
				if position.LessThan(quantity) {
					return &InsufficientAssetsError{Symbol: symbol, Available: position, Required: quantity}
				}
				if _, err := tx.AdjustWalletBalance(ctx, userID, total); err != nil {
					return err
				}
			}

			return tx.InsertOrder(ctx, order)
		})
		if err == nil {
			e.log.Infow("order executed",
				"order_id", order.ID,
				"user_id", userID,
				"symbol", symbol,
				"side", side,
				"quantity", quantity.String(),
				"price", price.String(),
				"total", total.String(),
			)
			return order, nil
		}

		if isRejection(err) {
			return nil, err
		}
		if !db.IsRetryable(err) {
			return nil, &ExecutionError{Err: err}
		}

		lastErr = err
		e.log.Warnw("order transaction conflicted, retrying",
			"user_id", userID, "symbol", symbol, "attempt", attempt+1, "err", err)
	}

	return nil, &ExecutionError{Err: fmt.Errorf("retries exhausted: %w", lastErr)}
}

// isRejection reports whether err is a terminal outcome that must surface
// to the caller unchanged: business rejections and invariant violations.
func isRejection(err error) bool {
	var funds *InsufficientFundsError
	var assets *InsufficientAssetsError
	return errors.As(err, &funds) ||
		errors.As(err, &assets) ||
		errors.Is(err, db.ErrWalletNotFound)
}
