// Package coinapi adapts CoinAPI.io's REST API to providerapi.Provider.
package coinapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"countervalue/internal/ids"
	"countervalue/internal/providerapi"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://rest.coinapi.io/v1"

// Config configures a Client.
type Config struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit int // requests per minute
}

// Client is a CoinAPI.io REST client.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewClient builds a Client from cfg, filling in CoinAPI's defaults for any
// zero-valued field.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 100
	}

	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimit)), 1),
	}
}

// Name identifies this provider for logging and metrics.
func (c *Client) Name() string { return "coinapi" }

// Init verifies the API key is present and the account is reachable.
func (c *Client) Init(ctx context.Context) error {
	if c.apiKey == "" {
		return &providerapi.ConfigError{Provider: c.Name(), Reason: "COINAPI_KEY is not set"}
	}
	if _, err := c.makeRequest(ctx, "/exchanges"); err != nil {
		return &providerapi.ConfigError{Provider: c.Name(), Reason: err.Error()}
	}
	return nil
}

type symbolEntry struct {
	SymbolID     string `json:"symbol_id"`
	ExchangeID   string `json:"exchange_id"`
	SymbolType   string `json:"symbol_type"`
	AssetIDBase  string `json:"asset_id_base"`
	AssetIDQuote string `json:"asset_id_quote"`
}

// FetchAvailablePairExchanges enumerates the SPOT symbols CoinAPI reports.
// CoinAPI's /symbols endpoint returns its entire catalog in one response;
// only its first providerapi.MaxPaginationPages*1000 entries are considered.
func (c *Client) FetchAvailablePairExchanges(ctx context.Context) ([]providerapi.PairExchange, error) {
	data, err := c.makeRequest(ctx, "/symbols?filter_symbol_type=SPOT")
	if err != nil {
		return nil, err
	}

	var entries []symbolEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("coinapi: decode symbols: %w", err)
	}

	out := make([]providerapi.PairExchange, 0, len(entries))
	for i, e := range entries {
		if i >= providerapi.MaxPaginationPages*1000 {
			break
		}
		if e.SymbolType != "SPOT" || e.AssetIDBase == "" || e.AssetIDQuote == "" {
			continue
		}
		out = append(out, providerapi.PairExchange{
			Exchange: e.ExchangeID,
			From:     e.AssetIDBase,
			To:       e.AssetIDQuote,
		})
	}
	return out, nil
}

type exchangeEntry struct {
	ExchangeID string `json:"exchange_id"`
	Name       string `json:"name"`
	Website    string `json:"website"`
}

// FetchExchanges enumerates the trading venues CoinAPI knows about.
func (c *Client) FetchExchanges(ctx context.Context) ([]providerapi.Exchange, error) {
	data, err := c.makeRequest(ctx, "/exchanges")
	if err != nil {
		return nil, err
	}

	var entries []exchangeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("coinapi: decode exchanges: %w", err)
	}

	out := make([]providerapi.Exchange, len(entries))
	for i, e := range entries {
		out[i] = providerapi.Exchange{ID: e.ExchangeID, Name: e.Name, Website: e.Website}
	}
	return out, nil
}

type ohlcvEntry struct {
	TimePeriodStart string  `json:"time_period_start"`
	PriceOpen       float64 `json:"price_open"`
	PriceHigh       float64 `json:"price_high"`
	PriceLow        float64 `json:"price_low"`
	PriceClose      float64 `json:"price_close"`
	VolumeTraded    float64 `json:"volume_traded"`
}

// FetchHistoSeries returns OHLCV points for a CoinAPI symbol id.
func (c *Client) FetchHistoSeries(ctx context.Context, pairExchangeID string, granularity ids.Granularity, limit int) ([]providerapi.OHLCVPoint, error) {
	period := "1DAY"
	if granularity == ids.Hourly {
		period = "1HRS"
	}

	exchange, from, to, err := ids.Parse(pairExchangeID)
	if err != nil {
		return nil, fmt.Errorf("coinapi: %w", err)
	}
	symbolID := fmt.Sprintf("%s_SPOT_%s_%s", exchange, from, to)

	endpoint := fmt.Sprintf("/ohlcv/%s/history?period_id=%s", symbolID, period)
	if limit > 0 {
		endpoint += "&limit=" + strconv.Itoa(limit)
	}

	data, err := c.makeRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var entries []ohlcvEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("coinapi: decode ohlcv history: %w", err)
	}

	out := make([]providerapi.OHLCVPoint, 0, len(entries))
	for _, e := range entries {
		t, err := time.Parse(time.RFC3339, e.TimePeriodStart)
		if err != nil {
			continue
		}
		out = append(out, providerapi.OHLCVPoint{
			Time:   t,
			Open:   decimal.NewFromFloat(e.PriceOpen),
			High:   decimal.NewFromFloat(e.PriceHigh),
			Low:    decimal.NewFromFloat(e.PriceLow),
			Close:  decimal.NewFromFloat(e.PriceClose),
			Volume: decimal.NewFromFloat(e.VolumeTraded),
		})
	}
	return out, nil
}

// SubscribePriceUpdate returns a channel that stays open until unsubscribe
// or ctx cancellation. It makes no requests and emits no price updates.
func (c *Client) SubscribePriceUpdate(ctx context.Context) (<-chan providerapi.PriceUpdate, providerapi.Unsubscribe, error) {
	ch := make(chan providerapi.PriceUpdate)
	stopCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopCtx.Done():
				return
			case <-ticker.C:
				// Polling target pairs is the caller's responsibility; this
				// loop exists only so callers have a live channel to select
				// on immediately after subscribing.
			}
		}
	}()

	var once bool
	unsubscribe := func() {
		if once {
			return
		}
		once = true
		cancel()
	}
	return ch, unsubscribe, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) makeRequest(ctx context.Context, endpoint string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("coinapi: rate limit wait cancelled: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coinapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CoinAPI-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coinapi: network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coinapi: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	msg := fmt.Sprintf("HTTP %d", statusCode)
	var errResp errorResponse
	if len(body) > 0 && json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		msg = errResp.Error
	}
	return fmt.Errorf("coinapi: %s", msg)
}

var _ providerapi.Provider = (*Client)(nil)
