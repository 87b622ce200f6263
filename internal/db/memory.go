package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/brokerage/internal/models"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development, not production (no persistence). ExecTx holds the store
// mutex for the whole transaction, so transactions are serializable — the
// same per-wallet ordering guarantee the Postgres row lock provides.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]*models.User
	nextUserID int
	wallets    map[int]*models.Wallet
	orders     []models.Order
	favorites  []models.Favorite
	nextFavID  int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*models.User),
		wallets: make(map[int]*models.Wallet),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return nil, fmt.Errorf("failed to create user: username %q already exists", username)
	}

	s.nextUserID++
	user := &models.User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[username] = user
	s.wallets[user.ID] = &models.Wallet{
		UserID:    user.ID,
		Balance:   decimal.Zero,
		UpdatedAt: user.CreatedAt,
	}

	copy := *user
	return &copy, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("failed to get user: %q not found", username)
	}
	copy := *user
	return &copy, nil
}

func (s *MemoryStore) GetWallet(_ context.Context, userID int) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	copy := *w
	return &copy, nil
}

func (s *MemoryStore) GetUserOrders(_ context.Context, userID int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, o)
		}
	}
	// Newest first, ties broken by id, matching the SQL ordering.
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (s *MemoryStore) PositionQuantity(_ context.Context, userID int, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return foldPosition(s.orders, userID, symbol), nil
}

func (s *MemoryStore) AddFavorite(_ context.Context, userID int, symbol string) (*models.Favorite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.favorites {
		if f.UserID == userID && f.Symbol == symbol {
			copy := f
			return &copy, nil
		}
	}

	s.nextFavID++
	fav := models.Favorite{
		ID:        s.nextFavID,
		UserID:    userID,
		Symbol:    symbol,
		CreatedAt: time.Now().UTC(),
	}
	s.favorites = append(s.favorites, fav)
	copy := fav
	return &copy, nil
}

func (s *MemoryStore) RemoveFavorite(_ context.Context, userID int, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.favorites[:0]
	for _, f := range s.favorites {
		if !(f.UserID == userID && f.Symbol == symbol) {
			kept = append(kept, f)
		}
	}
	s.favorites = kept
	return nil
}

func (s *MemoryStore) GetFavorites(_ context.Context, userID int) ([]models.Favorite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var favorites []models.Favorite
	for _, f := range s.favorites {
		if f.UserID == userID {
			favorites = append(favorites, f)
		}
	}
	return favorites, nil
}

// ExecTx runs fn under the store mutex. Writes are buffered in the memTx
// and applied only if fn succeeds, so a failed transaction leaves no
// partial state behind.
func (s *MemoryStore) ExecTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, balances: make(map[int]decimal.Decimal)}
	if err := fn(tx); err != nil {
		return err
	}

	now := time.Now().UTC()
	for userID, balance := range tx.balances {
		s.wallets[userID].Balance = balance
		s.wallets[userID].UpdatedAt = now
	}
	for _, o := range tx.orders {
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		s.orders = append(s.orders, o)
	}
	return nil
}

// memTx buffers transaction writes against a MemoryStore. The store mutex
// is held by ExecTx for the lifetime of the transaction.
type memTx struct {
	store    *MemoryStore
	balances map[int]decimal.Decimal // touched wallets, working copies
	orders   []models.Order          // pending inserts
}

func (t *memTx) LockWallet(_ context.Context, userID int) (decimal.Decimal, error) {
	if balance, ok := t.balances[userID]; ok {
		return balance, nil
	}
	w, ok := t.store.wallets[userID]
	if !ok {
		return decimal.Zero, ErrWalletNotFound
	}
	t.balances[userID] = w.Balance
	return w.Balance, nil
}

func (t *memTx) AdjustWalletBalance(ctx context.Context, userID int, delta decimal.Decimal) (decimal.Decimal, error) {
	balance, err := t.LockWallet(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	balance = balance.Add(delta)
	t.balances[userID] = balance
	return balance, nil
}

func (t *memTx) PositionQuantity(_ context.Context, userID int, symbol string) (decimal.Decimal, error) {
	// Committed orders plus this transaction's own pending inserts.
	qty := foldPosition(t.store.orders, userID, symbol)
	return qty.Add(foldPosition(t.orders, userID, symbol)), nil
}

func (t *memTx) InsertOrder(_ context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	t.orders = append(t.orders, *order)
	return nil
}

func foldPosition(orders []models.Order, userID int, symbol string) decimal.Decimal {
	qty := decimal.Zero
	for _, o := range orders {
		if o.UserID != userID || o.Symbol != symbol {
			continue
		}
		if o.Side == "buy" {
			qty = qty.Add(o.Quantity)
		} else {
			qty = qty.Sub(o.Quantity)
		}
	}
	return qty
}
