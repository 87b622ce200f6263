// Package db defines the persistence boundary for users, wallets and the
// append-only order history. PostgresStore is the source of truth;
// MemoryStore backs unit tests.
package db

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/brokerage/internal/models"
)

// ErrWalletNotFound signals that a user has no wallet row. Distinct from a
// zero balance: a missing wallet is an invariant violation for any properly
// registered user.
var ErrWalletNotFound = errors.New("wallet not found")

// Store is the transactional store consumed by the engine and handlers.
type Store interface {
	// CreateUser inserts a new user together with their zero-balance
	// wallet, as one transaction.
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)

	// GetUserByUsername retrieves a user by username
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// GetWallet retrieves a user's wallet, or ErrWalletNotFound.
	GetWallet(ctx context.Context, userID int) (*models.Wallet, error)

	// GetUserOrders retrieves a user's committed orders, newest first.
	GetUserOrders(ctx context.Context, userID int) ([]models.Order, error)

	// PositionQuantity folds the user's committed orders for one symbol:
	// buys count positive, sells negative.
	PositionQuantity(ctx context.Context, userID int, symbol string) (decimal.Decimal, error)

	// AddFavorite marks a symbol as watched by the user
	AddFavorite(ctx context.Context, userID int, symbol string) (*models.Favorite, error)

	// RemoveFavorite unmarks a watched symbol
	RemoveFavorite(ctx context.Context, userID int, symbol string) error

	// GetFavorites retrieves the user's watched symbols
	GetFavorites(ctx context.Context, userID int) ([]models.Favorite, error)

	// ExecTx runs fn inside one database transaction. Everything fn does
	// through the Tx commits or rolls back as a single unit; any error
	// returned by fn aborts the transaction.
	ExecTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside one ExecTx transaction.
type Tx interface {
	// LockWallet reads the wallet balance and holds a lock on the wallet
	// row until the transaction ends, serializing concurrent mutations of
	// the same wallet across service instances.
	LockWallet(ctx context.Context, userID int) (decimal.Decimal, error)

	// AdjustWalletBalance applies a signed delta to the wallet balance and
	// returns the new balance. Callers must have verified the result stays
	// non-negative; the wallets table CHECK constraint backstops that.
	AdjustWalletBalance(ctx context.Context, userID int, delta decimal.Decimal) (decimal.Decimal, error)

	// PositionQuantity is Store.PositionQuantity evaluated inside the
	// transaction, so it sees the transaction's own writes.
	PositionQuantity(ctx context.Context, userID int, symbol string) (decimal.Decimal, error)

	// InsertOrder appends an immutable order record
	InsertOrder(ctx context.Context, order *models.Order) error
}
