package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/brokerage/internal/models"
)

// Valuation builds the read-only portfolio summary: cash balance plus every
// non-zero position marked at the current oracle price. It performs no
// mutation; the snapshot is read-committed, not serialized against
// in-flight orders.
func (e *Engine) Valuation(ctx context.Context, userID int) (*models.Valuation, error) {
	wallet, err := e.store.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	orders, err := e.store.GetUserOrders(ctx, userID)
	if err != nil {
		return nil, err
	}

	net := make(map[string]decimal.Decimal)
	for _, o := range orders {
		if o.Side == SideBuy {
			net[o.Symbol] = net[o.Symbol].Add(o.Quantity)
		} else {
			net[o.Symbol] = net[o.Symbol].Sub(o.Quantity)
		}
	}

	valuation := &models.Valuation{
		CashBalance: wallet.Balance,
		Positions:   make(map[string]models.Holding),
		TotalValue:  wallet.Balance,
	}

	for symbol, qty := range net {
		if qty.IsZero() {
			continue
		}
		if qty.IsNegative() {
			return nil, &InconsistentPositionError{Symbol: symbol, Quantity: qty}
		}

		price, ok := e.oracle.GetPrice(ctx, symbol)
		if !ok {
			// No current quote for a held symbol: omit it rather than price
			// it at zero. A delisted instrument still shows up in the order
			// history.
			e.log.Warnw("no price for held symbol, omitting from valuation",
				"user_id", userID, "symbol", symbol, "quantity", qty.String())
			continue
		}

		marketValue := qty.Mul(price)
		valuation.Positions[symbol] = models.Holding{
			Quantity:     qty,
			CurrentPrice: price,
			MarketValue:  marketValue,
		}
		valuation.TotalValue = valuation.TotalValue.Add(marketValue)
	}

	return valuation, nil
}
