package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/oracle"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testPrices() oracle.Static {
	return oracle.Static{
		"btc": d("1000"),
		"eth": d("100"),
	}
}

// newTestEngine creates an engine over a fresh in-memory store with one
// registered user, returning the user's id.
func newTestEngine(t *testing.T) (*Engine, *db.MemoryStore, int) {
	t.Helper()
	store := db.NewMemoryStore()
	user, err := store.CreateUser(context.Background(), "alice", "hash")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	eng := New(store, testPrices(), zap.NewNop().Sugar())
	return eng, store, user.ID
}

func fund(t *testing.T, eng *Engine, userID int, amount string) {
	t.Helper()
	if _, err := eng.Deposit(context.Background(), userID, d(amount)); err != nil {
		t.Fatalf("failed to fund wallet: %v", err)
	}
}

func TestEngine_Execute_Validation(t *testing.T) {
	eng, _, userID := newTestEngine(t)

	tests := []struct {
		name     string
		symbol   string
		side     string
		quantity decimal.Decimal
		wantErr  error
	}{
		{
			name:     "InvalidSide",
			symbol:   "btc",
			side:     "short",
			quantity: d("1"),
			wantErr:  ErrInvalidSide,
		},
		{
			name:     "ZeroQuantity",
			symbol:   "btc",
			side:     SideBuy,
			quantity: decimal.Zero,
			wantErr:  ErrInvalidAmount,
		},
		{
			name:     "NegativeQuantity",
			symbol:   "btc",
			side:     SideSell,
			quantity: d("-1"),
			wantErr:  ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Execute(context.Background(), userID, tt.symbol, tt.side, tt.quantity)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEngine_Execute_UnknownSymbol(t *testing.T) {
	eng, store, userID := newTestEngine(t)
	fund(t, eng, userID, "1000")

	_, err := eng.Execute(context.Background(), userID, "xyz", SideBuy, d("1"))
	var notFound *SymbolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected SymbolNotFoundError, got %v", err)
	}
	if notFound.Symbol != "xyz" {
		t.Errorf("expected symbol xyz, got %s", notFound.Symbol)
	}

	// Balance untouched
	wallet, err := store.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !wallet.Balance.Equal(d("1000")) {
		t.Errorf("expected balance 1000, got %s", wallet.Balance)
	}
}

func TestEngine_Execute_BuyBoundary(t *testing.T) {
	eng, _, userID := newTestEngine(t)
	fund(t, eng, userID, "100")

	// quantity * price exactly equal to balance succeeds
	order, err := eng.Execute(context.Background(), userID, "eth", SideBuy, d("1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !order.Total.Equal(d("100")) {
		t.Errorf("expected total 100, got %s", order.Total)
	}

	balance, err := eng.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("expected balance 0, got %s", balance)
	}

	// any further buy fails with the available/required figures
	_, err = eng.Execute(context.Background(), userID, "eth", SideBuy, d("0.0001"))
	var funds *InsufficientFundsError
	if !errors.As(err, &funds) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if !funds.Available.IsZero() || !funds.Required.Equal(d("0.01")) {
		t.Errorf("unexpected figures: available %s, required %s", funds.Available, funds.Required)
	}
}

func TestEngine_Execute_SellBoundary(t *testing.T) {
	eng, _, userID := newTestEngine(t)
	fund(t, eng, userID, "1000")

	if _, err := eng.Execute(context.Background(), userID, "btc", SideBuy, d("1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Selling slightly more than held fails before any state change
	_, err := eng.Execute(context.Background(), userID, "btc", SideSell, d("1.0000001"))
	var assets *InsufficientAssetsError
	if !errors.As(err, &assets) {
		t.Fatalf("expected InsufficientAssetsError, got %v", err)
	}
	if !assets.Available.Equal(d("1")) || !assets.Required.Equal(d("1.0000001")) {
		t.Errorf("unexpected figures: available %s, required %s", assets.Available, assets.Required)
	}

	// Selling exactly the held quantity succeeds and zeroes the position
	if _, err := eng.Execute(context.Background(), userID, "btc", SideSell, d("1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	position, err := eng.Position(context.Background(), userID, "btc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !position.IsZero() {
		t.Errorf("expected position 0, got %s", position)
	}
}

func TestEngine_Execute_FailureLeavesNoPartialState(t *testing.T) {
	eng, store, userID := newTestEngine(t)
	fund(t, eng, userID, "500")

	before, _ := store.GetUserOrders(context.Background(), userID)

	_, err := eng.Execute(context.Background(), userID, "btc", SideBuy, d("1")) // needs 1000
	var funds *InsufficientFundsError
	if !errors.As(err, &funds) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}

	after, _ := store.GetUserOrders(context.Background(), userID)
	if len(after) != len(before) {
		t.Errorf("expected order count unchanged, got %d -> %d", len(before), len(after))
	}
	balance, _ := eng.Balance(context.Background(), userID)
	if !balance.Equal(d("500")) {
		t.Errorf("expected balance 500, got %s", balance)
	}
}

// Scenario: deposit, buy, sell half, then an unaffordable buy.
func TestEngine_Execute_Scenario(t *testing.T) {
	eng, _, userID := newTestEngine(t)
	ctx := context.Background()

	balance, err := eng.Deposit(ctx, userID, d("2000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !balance.Equal(d("2000")) {
		t.Errorf("expected balance 2000, got %s", balance)
	}

	if _, err := eng.Execute(ctx, userID, "btc", SideBuy, d("1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	balance, _ = eng.Balance(ctx, userID)
	if !balance.Equal(d("1000")) {
		t.Errorf("expected balance 1000 after buy, got %s", balance)
	}

	if _, err := eng.Execute(ctx, userID, "btc", SideSell, d("0.5")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	balance, _ = eng.Balance(ctx, userID)
	if !balance.Equal(d("1500")) {
		t.Errorf("expected balance 1500 after sell, got %s", balance)
	}
	position, _ := eng.Position(ctx, userID, "btc")
	if !position.Equal(d("0.5")) {
		t.Errorf("expected position 0.5, got %s", position)
	}

	_, err = eng.Execute(ctx, userID, "btc", SideBuy, d("100"))
	var funds *InsufficientFundsError
	if !errors.As(err, &funds) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if !funds.Available.Equal(d("1500")) || !funds.Required.Equal(d("100000")) {
		t.Errorf("unexpected figures: available %s, required %s", funds.Available, funds.Required)
	}
}

// Two concurrent buys, each affordable alone but not together, must end
// with exactly one success and no negative balance.
func TestEngine_Execute_ConcurrentBuys(t *testing.T) {
	eng, _, userID := newTestEngine(t)
	fund(t, eng, userID, "1500") // each buy costs 1000

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, rejections := 0, 0

	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, err := eng.Execute(context.Background(), userID, "btc", SideBuy, d("1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			default:
				var funds *InsufficientFundsError
				if errors.As(err, &funds) {
					rejections++
				} else {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if successes != 1 || rejections != 1 {
		t.Errorf("expected 1 success and 1 rejection, got %d and %d", successes, rejections)
	}

	balance, _ := eng.Balance(context.Background(), userID)
	if !balance.Equal(d("500")) {
		t.Errorf("expected balance 500, got %s", balance)
	}
	if balance.IsNegative() {
		t.Error("balance went negative")
	}
}

// conflictStore wraps a Store and fails the first n transactions with a
// retryable serialization error.
type conflictStore struct {
	db.Store
	mu        sync.Mutex
	conflicts int
}

func (s *conflictStore) ExecTx(ctx context.Context, fn func(tx db.Tx) error) error {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return &pgconn.PgError{Code: "40001", Message: "serialization failure"}
	}
	s.mu.Unlock()
	return s.Store.ExecTx(ctx, fn)
}

func TestEngine_Execute_RetriesConflicts(t *testing.T) {
	store := db.NewMemoryStore()
	user, err := store.CreateUser(context.Background(), "alice", "hash")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	eng := New(store, testPrices(), zap.NewNop().Sugar())
	fund(t, eng, user.ID, "1000")

	cs := &conflictStore{Store: store, conflicts: 2}
	eng = New(cs, testPrices(), zap.NewNop().Sugar())

	order, err := eng.Execute(context.Background(), user.ID, "btc", SideBuy, d("1"))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if !order.Total.Equal(d("1000")) {
		t.Errorf("expected total 1000, got %s", order.Total)
	}
}

func TestEngine_Execute_RetriesExhausted(t *testing.T) {
	store := db.NewMemoryStore()
	user, err := store.CreateUser(context.Background(), "alice", "hash")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	eng := New(store, testPrices(), zap.NewNop().Sugar())
	fund(t, eng, user.ID, "1000")

	cs := &conflictStore{Store: store, conflicts: 100}
	eng = New(cs, testPrices(), zap.NewNop().Sugar())

	_, err = eng.Execute(context.Background(), user.ID, "btc", SideBuy, d("1"))
	var exec *ExecutionError
	if !errors.As(err, &exec) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}

	// Nothing persisted
	balance, _ := eng.Balance(context.Background(), user.ID)
	if !balance.Equal(d("1000")) {
		t.Errorf("expected balance 1000, got %s", balance)
	}
	orders, _ := store.GetUserOrders(context.Background(), user.ID)
	if len(orders) != 0 {
		t.Errorf("expected no orders, got %d", len(orders))
	}
}

func TestEngine_Execute_WalletNotFound(t *testing.T) {
	store := db.NewMemoryStore()
	eng := New(store, testPrices(), zap.NewNop().Sugar())

	_, err := eng.Execute(context.Background(), 999, "btc", SideBuy, d("1"))
	if !errors.Is(err, db.ErrWalletNotFound) {
		t.Errorf("expected ErrWalletNotFound, got %v", err)
	}
}
