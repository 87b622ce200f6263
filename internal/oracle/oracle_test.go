package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func quoteServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("vs_currencies"); got != "usd" {
			t.Errorf("expected vs_currencies=usd, got %s", got)
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
}

func TestCoinGeckoClient_FetchQuotes(t *testing.T) {
	srv := quoteServer(t, http.StatusOK, `{
		"bitcoin":  {"usd": 43250.12, "usd_24h_change": -1.2, "last_updated_at": 1700000000},
		"ethereum": {"usd": 2301.5,   "usd_24h_change": 3.4,  "last_updated_at": 1700000000},
		"dogecoin": {"usd": 0}
	}`)
	defer srv.Close()

	client := NewCoinGeckoClient(srv.URL)
	quotes, err := client.FetchQuotes(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// dogecoin has no positive price and must be dropped
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}

	bySymbol := make(map[string]Quote)
	for _, q := range quotes {
		bySymbol[q.Symbol] = q
	}
	btc, ok := bySymbol["btc"]
	if !ok {
		t.Fatal("expected btc quote")
	}
	if !btc.Price.Equal(decimal.NewFromFloat(43250.12)) {
		t.Errorf("expected btc price 43250.12, got %s", btc.Price)
	}
	if btc.Change24h != -1.2 {
		t.Errorf("expected btc change -1.2, got %f", btc.Change24h)
	}
}

func TestCoinGeckoClient_FetchQuotes_ServerError(t *testing.T) {
	srv := quoteServer(t, http.StatusTooManyRequests, `{"error": "rate limited"}`)
	defer srv.Close()

	client := NewCoinGeckoClient(srv.URL)
	if _, err := client.FetchQuotes(context.Background()); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestService_RefreshAndGetPrice(t *testing.T) {
	srv := quoteServer(t, http.StatusOK, `{
		"bitcoin":  {"usd": 40000, "usd_24h_change": 1.0, "last_updated_at": 1700000000},
		"solana":   {"usd": 95.5,  "usd_24h_change": 2.0, "last_updated_at": 1700000000}
	}`)
	defer srv.Close()

	svc := NewService(NewCoinGeckoClient(srv.URL), nil, zap.NewNop().Sugar())

	// Empty before the first refresh
	if _, ok := svc.GetPrice(context.Background(), "btc"); ok {
		t.Error("expected no price before refresh")
	}

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	price, ok := svc.GetPrice(context.Background(), "btc")
	if !ok {
		t.Fatal("expected btc price after refresh")
	}
	if !price.Equal(decimal.NewFromInt(40000)) {
		t.Errorf("expected price 40000, got %s", price)
	}

	// Unknown symbols stay unknown, never defaulted
	if _, ok := svc.GetPrice(context.Background(), "xyz"); ok {
		t.Error("expected no price for unknown symbol")
	}

	quotes := svc.Quotes()
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
	// Sorted by symbol
	if quotes[0].Symbol != "btc" || quotes[1].Symbol != "sol" {
		t.Errorf("expected [btc sol], got [%s %s]", quotes[0].Symbol, quotes[1].Symbol)
	}
}

func TestService_RefreshFailureKeepsSnapshot(t *testing.T) {
	srv := quoteServer(t, http.StatusOK, `{
		"bitcoin": {"usd": 40000, "usd_24h_change": 1.0, "last_updated_at": 1700000000}
	}`)

	svc := NewService(NewCoinGeckoClient(srv.URL), nil, zap.NewNop().Sugar())
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srv.Close()

	// Refresh against a dead server fails but the old snapshot survives
	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh against closed server to fail")
	}
	if _, ok := svc.GetPrice(context.Background(), "btc"); !ok {
		t.Error("expected previous snapshot to survive a failed refresh")
	}
}

func TestStatic_GetPrice(t *testing.T) {
	static := Static{"btc": decimal.NewFromInt(100)}

	price, ok := static.GetPrice(context.Background(), "btc")
	if !ok || !price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected 100, got %s (ok=%v)", price, ok)
	}
	if _, ok := static.GetPrice(context.Background(), "eth"); ok {
		t.Error("expected no price for unlisted symbol")
	}
}
