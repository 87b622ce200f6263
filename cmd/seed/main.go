package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/brokerage/internal/config"
	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/engine"
	"github.com/xtrntr/brokerage/internal/models"
	"github.com/xtrntr/brokerage/internal/oracle"
)

// Seed the database with demo traders, funded wallets and a small order
// history. Prices are fixed here so seeding never depends on the live
// price feed.
func main() {
	ctx := context.Background()
	cfg := config.Load()

	store, err := db.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close(ctx)

	if _, err := store.GetUserByUsername(ctx, "trader1"); err == nil {
		fmt.Println("Database already seeded. Nothing to do.")
		os.Exit(0)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	prices := oracle.Static{
		"btc": decimal.NewFromInt(30000),
		"eth": decimal.NewFromInt(2000),
		"sol": decimal.NewFromInt(25),
	}
	eng := engine.New(store, prices, logger.Sugar())

	trader1 := seedUser(ctx, store, "trader1")
	trader2 := seedUser(ctx, store, "trader2")

	mustDeposit(ctx, eng, trader1, 10000)
	mustDeposit(ctx, eng, trader2, 5000)

	mustExecute(ctx, eng, trader1, "btc", engine.SideBuy, "0.2")
	mustExecute(ctx, eng, trader1, "eth", engine.SideBuy, "1.5")
	mustExecute(ctx, eng, trader1, "eth", engine.SideSell, "0.5")
	mustExecute(ctx, eng, trader2, "sol", engine.SideBuy, "40")

	fmt.Println("Successfully seeded the database with demo traders!")
}

func seedUser(ctx context.Context, store db.Store, username string) *models.User {
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	user, err := store.CreateUser(ctx, username, string(hash))
	if err != nil {
		log.Fatalf("Failed to create %s: %v", username, err)
	}
	return user
}

func mustDeposit(ctx context.Context, eng *engine.Engine, user *models.User, amount int64) {
	if _, err := eng.Deposit(ctx, user.ID, decimal.NewFromInt(amount)); err != nil {
		log.Fatalf("Failed to fund %s: %v", user.Username, err)
	}
}

func mustExecute(ctx context.Context, eng *engine.Engine, user *models.User, symbol, side, quantity string) {
	qty, err := decimal.NewFromString(quantity)
	if err != nil {
		log.Fatalf("Invalid quantity %q: %v", quantity, err)
	}
	if _, err := eng.Execute(ctx, user.ID, symbol, side, qty); err != nil {
		log.Fatalf("Failed to execute %s %s %s for %s: %v", side, quantity, symbol, user.Username, err)
	}
}
