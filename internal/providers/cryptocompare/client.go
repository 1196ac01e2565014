// Package cryptocompare adapts CryptoCompare's REST API to
// providerapi.Provider.
package cryptocompare

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

const defaultBaseURL = "https://min-api.cryptocompare.com/data"

// Config configures a Client. APIKey is optional: CryptoCompare serves a
// free, unauthenticated tier at a lower rate limit.
type Config struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit int // requests per minute
}

// Client is a CryptoCompare REST client.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 30
	}

	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimit)), 1),
	}
}

// Name identifies this provider for logging and metrics.
func (c *Client) Name() string { return "cryptocompare" }

// Init pings the exchanges endpoint; CryptoCompare's free tier needs no key
// so this only fails on network/config problems, never on a missing key.
func (c *Client) Init(ctx context.Context) error {
	if _, err := c.makeRequest(ctx, "/v2/exchanges/general"); err != nil {
		return &providerapi.ConfigError{Provider: c.Name(), Reason: err.Error()}
	}
	return nil
}

type exchangeGeneralResponse struct {
	Data map[string]struct {
		InternalName string   `json:"InternalName"`
		Homepage     string   `json:"AffiliateURL"`
		Pairs        []string `json:"PairsList"`
	} `json:"Data"`
}

// FetchAvailablePairExchanges enumerates pairs across every exchange
// CryptoCompare reports.
func (c *Client) FetchAvailablePairExchanges(ctx context.Context) ([]providerapi.PairExchange, error) {
	data, err := c.makeRequest(ctx, "/v2/exchanges/general")
	if err != nil {
		return nil, err
	}

	var resp exchangeGeneralResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("cryptocompare: decode exchanges/general: %w", err)
	}

	var out []providerapi.PairExchange
	for exchangeID, info := range resp.Data {
		for _, pair := range info.Pairs {
			from, to, ok := splitPair(pair)
			if !ok {
				continue
			}
			out = append(out, providerapi.PairExchange{Exchange: exchangeID, From: from, To: to})
			if len(out) >= providerapi.MaxPaginationPages*1000 {
				return out, nil
			}
		}
	}
	return out, nil
}

func splitPair(pair string) (from, to string, ok bool) {
	for i := 1; i < len(pair); i++ {
		if pair[i] >= 'A' && pair[i] <= 'Z' {
			return pair[:i], pair[i:], true
		}
	}
	return "", "", false
}

// FetchExchanges enumerates the trading venues CryptoCompare knows about.
func (c *Client) FetchExchanges(ctx context.Context) ([]providerapi.Exchange, error) {
	data, err := c.makeRequest(ctx, "/v2/exchanges/general")
	if err != nil {
		return nil, err
	}

	var resp exchangeGeneralResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("cryptocompare: decode exchanges/general: %w", err)
	}

	out := make([]providerapi.Exchange, 0, len(resp.Data))
	for id, info := range resp.Data {
		out = append(out, providerapi.Exchange{ID: id, Name: info.InternalName, Website: info.Homepage})
	}
	return out, nil
}

type histoResponse struct {
	Data struct {
		Data []struct {
			Time       int64   `json:"time"`
			Open       float64 `json:"open"`
			High       float64 `json:"high"`
			Low        float64 `json:"low"`
			Close      float64 `json:"close"`
			VolumeFrom float64 `json:"volumefrom"`
		} `json:"Data"`
	} `json:"Data"`
}

// FetchHistoSeries returns OHLCV points via CryptoCompare's histoday/histohour.
func (c *Client) FetchHistoSeries(ctx context.Context, pairExchangeID string, granularity ids.Granularity, limit int) ([]providerapi.OHLCVPoint, error) {
	exchange, from, to, err := ids.Parse(pairExchangeID)
	if err != nil {
		return nil, fmt.Errorf("cryptocompare: %w", err)
	}

	path := "/v2/histoday"
	if granularity == ids.Hourly {
		path = "/v2/histohour"
	}
	if limit <= 0 || limit > 2000 {
		limit = 2000
	}

	endpoint := fmt.Sprintf("%s?fsym=%s&tsym=%s&e=%s&limit=%s", path, from, to, exchange, strconv.Itoa(limit))
	data, err := c.makeRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp histoResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("cryptocompare: decode histo series: %w", err)
	}

	out := make([]providerapi.OHLCVPoint, 0, len(resp.Data.Data))
	for _, p := range resp.Data.Data {
		out = append(out, providerapi.OHLCVPoint{
			Time:   time.Unix(p.Time, 0).UTC(),
			Open:   decimal.NewFromFloat(p.Open),
			High:   decimal.NewFromFloat(p.High),
			Low:    decimal.NewFromFloat(p.Low),
			Close:  decimal.NewFromFloat(p.Close),
			Volume: decimal.NewFromFloat(p.VolumeFrom),
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
		<-stopCtx.Done()
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
	Message string `json:"Message"`
}

func (c *Client) makeRequest(ctx context.Context, endpoint string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("cryptocompare: rate limit wait cancelled: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptocompare: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("authorization", "Apikey "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cryptocompare: network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cryptocompare: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	msg := fmt.Sprintf("HTTP %d", statusCode)
	var errResp errorResponse
	if len(body) > 0 && json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		msg = errResp.Message
	}
	return fmt.Errorf("cryptocompare: %s", msg)
}

var _ providerapi.Provider = (*Client)(nil)
