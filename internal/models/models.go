package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered account holder
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Wallet holds the cash balance for a user. One wallet per user, created
// with balance 0 at registration, mutated only through the engine.
type Wallet struct {
	UserID    int             `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Order is an immutable record of one executed buy or sell. Once written
// it is never updated or deleted; positions are derived by folding these
// records, so the order history is the sole source of truth.
type Order struct {
	ID               string          `json:"id"`
	UserID           int             `json:"user_id"`
	Symbol           string          `json:"symbol"`
	Side             string          `json:"side"` // "buy" or "sell"
	Quantity         decimal.Decimal `json:"quantity"`
	PriceAtExecution decimal.Decimal `json:"price_at_execution"`
	Total            decimal.Decimal `json:"total"` // quantity * price_at_execution
	CreatedAt        time.Time       `json:"created_at"`
}

// Favorite marks a symbol a user is watching
type Favorite struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	Symbol    string    `json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
}

// Holding is one symbol's slice of a portfolio valuation.
type Holding struct {
	Quantity     decimal.Decimal `json:"quantity"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MarketValue  decimal.Decimal `json:"market_value"`
}

// Valuation is the read-only portfolio summary: cash balance plus every
// non-zero position marked at current oracle prices.
type Valuation struct {
	CashBalance decimal.Decimal    `json:"cash_balance"`
	Positions   map[string]Holding `json:"positions"`
	TotalValue  decimal.Decimal    `json:"total_value"`
}
