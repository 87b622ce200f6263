// Package oracle supplies current market prices per symbol. The production
// implementation is a CoinGecko-backed cache refreshed on a timer; the
// engine only sees the Oracle interface, so tests run against fixed prices.
package oracle

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/brokerage/internal/metrics"
)

// Quote is one symbol's price snapshot
type Quote struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Change24h float64         `json:"change_24h"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Oracle returns the current price for a symbol. An unknown symbol is
// reported with ok=false, never substituted with a default price.
type Oracle interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, bool)
}

// Service caches quotes in memory and refreshes them from a market data
// client on a fixed interval. An optional Redis mirror keeps quotes warm
// across instances and restarts.
type Service struct {
	client   *CoinGeckoClient
	rdb      *redis.Client // optional, may be nil
	cacheTTL time.Duration
	log      *zap.SugaredLogger

	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewService creates an oracle service. Pass nil for rdb to disable the
// Redis mirror.
func NewService(client *CoinGeckoClient, rdb *redis.Client, log *zap.SugaredLogger) *Service {
	return &Service{
		client:   client,
		rdb:      rdb,
		cacheTTL: 30 * time.Minute,
		log:      log,
		quotes:   make(map[string]Quote),
	}
}

// Refresh pulls a fresh quote set from the client and replaces the cache.
// A failed refresh keeps the previous snapshot.
func (s *Service) Refresh(ctx context.Context) error {
	quotes, err := s.client.FetchQuotes(ctx)
	if err != nil {
		metrics.QuoteRefreshes.WithLabelValues("error").Inc()
		return err
	}
	metrics.QuoteRefreshes.WithLabelValues("success").Inc()

	s.mu.Lock()
	for _, q := range quotes {
		s.quotes[q.Symbol] = q
	}
	s.mu.Unlock()

	if s.rdb != nil {
		for _, q := range quotes {
			data, err := json.Marshal(q)
			if err != nil {
				continue
			}
			if err := s.rdb.Set(ctx, quoteKey(q.Symbol), data, s.cacheTTL).Err(); err != nil {
				s.log.Warnw("failed to mirror quote to redis", "symbol", q.Symbol, "err", err)
			}
		}
	}

	s.log.Infow("quotes refreshed", "count", len(quotes))
	return nil
}

// Run refreshes once immediately, then on every tick until ctx is canceled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if err := s.Refresh(ctx); err != nil {
		s.log.Errorw("initial quote sync failed", "err", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.log.Errorw("quote refresh failed", "err", err)
			}
		}
	}
}

// GetPrice returns the cached price for a symbol. On a local miss it falls
// back to the Redis mirror, which covers cold starts of fresh instances.
func (s *Service) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	q, ok := s.quotes[symbol]
	s.mu.RUnlock()
	if ok {
		return q.Price, true
	}

	if s.rdb == nil {
		return decimal.Zero, false
	}
	data, err := s.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if err != nil {
		return decimal.Zero, false
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return decimal.Zero, false
	}
	s.mu.Lock()
	s.quotes[q.Symbol] = q
	s.mu.Unlock()
	return q.Price, true
}

// Quotes returns the current snapshot, sorted by symbol
func (s *Service) Quotes() []Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes := make([]Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		quotes = append(quotes, q)
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })
	return quotes
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

// Static is a fixed-price oracle for tests and seeding.
type Static map[string]decimal.Decimal

func (s Static) GetPrice(_ context.Context, symbol string) (decimal.Decimal, bool) {
	price, ok := s[symbol]
	return price, ok
}
