// Package coinmarketcap adapts CoinMarketCap's listings endpoint to
// engine.MarketCapSource.
package coinmarketcap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	baseURL    = "https://pro-api.coinmarketcap.com/v1"
	maxRanking = 5000
)

// Client is a CoinMarketCap REST client producing a market-cap-ordered
// ticker ranking.
type Client struct {
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewClient builds a Client. apiKey is required: CoinMarketCap's listings
// endpoint has no unauthenticated tier.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/30), 1),
	}
}

type listingsResponse struct {
	Data []struct {
		Symbol          string `json:"symbol"`
		CmcRank         int    `json:"cmc_rank"`
		IsActive        int    `json:"is_active"`
	} `json:"data"`
}

// FetchRanking returns crypto tickers ordered by CoinMarketCap rank,
// ascending (rank 1 first).
func (c *Client) FetchRanking(ctx context.Context) ([]string, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("coinmarketcap: CMC_API_KEY is not set")
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("coinmarketcap: rate limit wait cancelled: %w", err)
	}

	endpoint := fmt.Sprintf("%s/cryptocurrency/listings/latest?limit=%d&sort=market_cap", baseURL, maxRanking)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coinmarketcap: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coinmarketcap: network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coinmarketcap: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coinmarketcap: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var listings listingsResponse
	if err := json.Unmarshal(body, &listings); err != nil {
		return nil, fmt.Errorf("coinmarketcap: decode listings: %w", err)
	}

	out := make([]string, 0, len(listings.Data))
	for _, e := range listings.Data {
		if e.IsActive == 0 {
			continue
		}
		out = append(out, e.Symbol)
	}
	return out, nil
}
