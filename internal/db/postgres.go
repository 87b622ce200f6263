package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/brokerage/internal/models"
)

// PostgresStore implements Store on a PostgreSQL connection pool. Monetary
// values are stored as NUMERIC and scanned through TEXT for exact decimals.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore initializes a new database connection pool
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &PostgresStore{Pool: pool}, nil
}

// Close closes the database connection pool
func (s *PostgresStore) Close(ctx context.Context) error {
	s.Pool.Close()
	return nil
}

// CreateUser inserts a new user and their zero-balance wallet in one
// transaction, so no registered user can exist without a wallet.
func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	user := &models.User{}
	err = tx.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	_, err = tx.Exec(ctx, "INSERT INTO wallets (user_id, balance) VALUES ($1, 0)", user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := s.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetWallet retrieves a user's wallet
func (s *PostgresStore) GetWallet(ctx context.Context, userID int) (*models.Wallet, error) {
	wallet := &models.Wallet{UserID: userID}
	var balance string
	err := s.Pool.QueryRow(ctx,
		"SELECT balance::TEXT, updated_at FROM wallets WHERE user_id = $1",
		userID).Scan(&balance, &wallet.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	wallet.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	return wallet, nil
}

// GetUserOrders retrieves all orders for a user, newest first
func (s *PostgresStore) GetUserOrders(ctx context.Context, userID int) ([]models.Order, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, user_id, symbol, side, quantity::TEXT, price_at_execution::TEXT, total::TEXT, created_at
		 FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// PositionQuantity folds the user's committed orders for a symbol
func (s *PostgresStore) PositionQuantity(ctx context.Context, userID int, symbol string) (decimal.Decimal, error) {
	return positionQuantity(ctx, s.Pool, userID, symbol)
}

// AddFavorite marks a symbol as watched by the user
func (s *PostgresStore) AddFavorite(ctx context.Context, userID int, symbol string) (*models.Favorite, error) {
	fav := &models.Favorite{}
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO favorites (user_id, symbol) VALUES ($1, $2)
		 ON CONFLICT (user_id, symbol) DO UPDATE SET symbol = EXCLUDED.symbol
		 RETURNING id, user_id, symbol, created_at`,
		userID, symbol).Scan(&fav.ID, &fav.UserID, &fav.Symbol, &fav.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add favorite: %w", err)
	}
	return fav, nil
}

// RemoveFavorite unmarks a watched symbol
func (s *PostgresStore) RemoveFavorite(ctx context.Context, userID int, symbol string) error {
	_, err := s.Pool.Exec(ctx,
		"DELETE FROM favorites WHERE user_id = $1 AND symbol = $2", userID, symbol)
	if err != nil {
		return fmt.Errorf("failed to remove favorite: %w", err)
	}
	return nil
}

// GetFavorites retrieves the user's watched symbols
func (s *PostgresStore) GetFavorites(ctx context.Context, userID int) ([]models.Favorite, error) {
	rows, err := s.Pool.Query(ctx,
		"SELECT id, user_id, symbol, created_at FROM favorites WHERE user_id = $1 ORDER BY created_at",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get favorites: %w", err)
	}
	defer rows.Close()

	var favorites []models.Favorite
	for rows.Next() {
		var fav models.Favorite
		if err := rows.Scan(&fav.ID, &fav.UserID, &fav.Symbol, &fav.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan favorite: %w", err)
		}
		favorites = append(favorites, fav)
	}
	return favorites, rows.Err()
}

// ExecTx runs fn inside one transaction at read-committed isolation. Wallet
// serialization comes from the FOR UPDATE row lock taken by LockWallet, not
// from a stronger isolation level.
func (s *PostgresStore) ExecTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgTx adapts a pgx transaction to the Tx interface
type pgTx struct {
	tx pgx.Tx
}

// LockWallet reads the balance with FOR UPDATE, blocking concurrent
// transactions on the same wallet row until this one commits or rolls back.
func (t *pgTx) LockWallet(ctx context.Context, userID int) (decimal.Decimal, error) {
	var balance string
	err := t.tx.QueryRow(ctx,
		"SELECT balance::TEXT FROM wallets WHERE user_id = $1 FOR UPDATE",
		userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrWalletNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return decimal.NewFromString(balance)
}

func (t *pgTx) AdjustWalletBalance(ctx context.Context, userID int, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := t.tx.QueryRow(ctx,
		`UPDATE wallets SET balance = balance + $2::NUMERIC, updated_at = NOW()
		 WHERE user_id = $1 RETURNING balance::TEXT`,
		userID, delta.String()).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrWalletNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to adjust balance: %w", err)
	}
	return decimal.NewFromString(balance)
}

func (t *pgTx) PositionQuantity(ctx context.Context, userID int, symbol string) (decimal.Decimal, error) {
	return positionQuantity(ctx, t.tx, userID, symbol)
}

func (t *pgTx) InsertOrder(ctx context.Context, order *models.Order) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO orders (id, user_id, symbol, side, quantity, price_at_execution, total)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC)
		 RETURNING created_at`,
		order.ID, order.UserID, order.Symbol, order.Side,
		order.Quantity.String(), order.PriceAtExecution.String(), order.Total.String()).
		Scan(&order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// querier is the subset of pgx shared by pools and transactions
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func positionQuantity(ctx context.Context, q querier, userID int, symbol string) (decimal.Decimal, error) {
	var qty string
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN side = 'buy' THEN quantity ELSE -quantity END), 0)::TEXT
		 FROM orders WHERE user_id = $1 AND symbol = $2`,
		userID, symbol).Scan(&qty)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute position: %w", err)
	}
	return decimal.NewFromString(qty)
}

func scanOrders(rows pgx.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		var order models.Order
		var quantity, price, total string
		if err := rows.Scan(&order.ID, &order.UserID, &order.Symbol, &order.Side,
			&quantity, &price, &total, &order.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		var err error
		if order.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("failed to parse quantity: %w", err)
		}
		if order.PriceAtExecution, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("failed to parse price: %w", err)
		}
		if order.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("failed to parse total: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// IsRetryable reports whether a transaction failed with a serialization or
// deadlock error that a fresh attempt may resolve.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
