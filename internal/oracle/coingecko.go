package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is one tradable symbol and its CoinGecko listing id
type Instrument struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Instruments is the monitored instrument catalog. Symbols outside this
// list have no price and cannot be traded.
var Instruments = []Instrument{
	{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin"},
	{ID: "ethereum", Symbol: "eth", Name: "Ethereum"},
	{ID: "litecoin", Symbol: "ltc", Name: "Litecoin"},
	{ID: "solana", Symbol: "sol", Name: "Solana"},
	{ID: "cardano", Symbol: "ada", Name: "Cardano"},
	{ID: "dogecoin", Symbol: "doge", Name: "Dogecoin"},
	{ID: "polkadot", Symbol: "dot", Name: "Polkadot"},
	{ID: "avalanche-2", Symbol: "avax", Name: "Avalanche"},
	{ID: "chainlink", Symbol: "link", Name: "Chainlink"},
	{ID: "uniswap", Symbol: "uni", Name: "Uniswap"},
}

// CoinGeckoClient fetches spot prices from the CoinGecko simple/price API.
type CoinGeckoClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCoinGeckoClient creates a client. baseURL defaults to the public API
// when empty; tests point it at a local httptest server.
func NewCoinGeckoClient(baseURL string) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	return &CoinGeckoClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchQuotes retrieves current prices for the whole instrument catalog.
func (c *CoinGeckoClient) FetchQuotes(ctx context.Context) ([]Quote, error) {
	ids := make([]string, len(Instruments))
	for i, inst := range Instruments {
		ids[i] = inst.ID
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")
	params.Set("include_24hr_change", "true")
	params.Set("include_last_updated_at", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/simple/price?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price request returned status %d", resp.StatusCode)
	}

	var payload map[string]struct {
		USD          float64 `json:"usd"`
		USD24hChange float64 `json:"usd_24h_change"`
		LastUpdated  int64   `json:"last_updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	var quotes []Quote
	for _, inst := range Instruments {
		entry, ok := payload[inst.ID]
		if !ok || entry.USD <= 0 {
			continue
		}
		quotes = append(quotes, Quote{
			Symbol:    inst.Symbol,
			Name:      inst.Name,
			Price:     decimal.NewFromFloat(entry.USD),
			Change24h: entry.USD24hChange,
			UpdatedAt: time.Unix(entry.LastUpdated, 0).UTC(),
		})
	}
	return quotes, nil
}
