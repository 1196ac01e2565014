// Package kaiko adapts Kaiko's REST and (optionally) websocket APIs to
// providerapi.Provider.
package kaiko

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

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Config configures a Client.
type Config struct {
	APIKey     string
	WSSAPIKey  string
	Region     string // "eu" | "us"
	APIVersion string // "v1"
	UseWSS     bool
	Timeout    time.Duration
	RateLimit  int // requests per minute
}

// Client is a Kaiko REST (+ optional websocket) client.
type Client struct {
	apiKey      string
	wssAPIKey   string
	baseURL     string
	wssURL      string
	useWSS      bool
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	dialer      *websocket.Dialer
}

// NewClient builds a Client from cfg, routing to Kaiko's regional endpoints.
func NewClient(cfg Config) *Client {
	region := cfg.Region
	if region == "" {
		region = "eu"
	}
	version := cfg.APIVersion
	if version == "" {
		version = "v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 60
	}

	return &Client{
		apiKey:      cfg.APIKey,
		wssAPIKey:   cfg.WSSAPIKey,
		baseURL:     fmt.Sprintf("https://%s.market-api.kaiko.io/%s", region, version),
		wssURL:      fmt.Sprintf("wss://%s.market-ws.kaiko.io/%s", region, version),
		useWSS:      cfg.UseWSS,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimit)), 1),
		dialer:      websocket.DefaultDialer,
	}
}

// Name identifies this provider for logging and metrics.
func (c *Client) Name() string { return "kaiko" }

// Init verifies the REST API key, and, if websocket streaming is enabled,
// that a websocket key was also supplied.
func (c *Client) Init(ctx context.Context) error {
	if c.apiKey == "" {
		return &providerapi.ConfigError{Provider: c.Name(), Reason: "KAIKO_KEY is not set"}
	}
	if c.useWSS && c.wssAPIKey == "" {
		return &providerapi.ConfigError{Provider: c.Name(), Reason: "USE_KAIKO_WSS is set but KAIKO_KEY_WSS is empty"}
	}
	if _, err := c.makeRequest(ctx, "/data/order_book_snapshots.v1/exchanges"); err != nil {
		return &providerapi.ConfigError{Provider: c.Name(), Reason: err.Error()}
	}
	return nil
}

type referenceDataResponse struct {
	Data []struct {
		Code string `json:"code"`
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"data"`
}

// FetchExchanges enumerates the trading venues Kaiko knows about.
func (c *Client) FetchExchanges(ctx context.Context) ([]providerapi.Exchange, error) {
	data, err := c.makeRequest(ctx, "/reference-data/api/v1/exchanges")
	if err != nil {
		return nil, err
	}

	var resp referenceDataResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("kaiko: decode exchanges: %w", err)
	}

	out := make([]providerapi.Exchange, len(resp.Data))
	for i, e := range resp.Data {
		out[i] = providerapi.Exchange{ID: e.Code, Name: e.Name, Website: e.URL}
	}
	return out, nil
}

type instrumentEntry struct {
	Code          string `json:"code"`
	ExchangeCode  string `json:"exchange_code"`
	BaseAsset     string `json:"base_asset"`
	QuoteAsset    string `json:"quote_asset"`
	Class         string `json:"class"`
}

type instrumentsResponse struct {
	Data []instrumentEntry `json:"data"`
}

// FetchAvailablePairExchanges enumerates spot instruments across every
// exchange Kaiko supports.
func (c *Client) FetchAvailablePairExchanges(ctx context.Context) ([]providerapi.PairExchange, error) {
	data, err := c.makeRequest(ctx, "/reference-data/api/v1/instruments")
	if err != nil {
		return nil, err
	}

	var resp instrumentsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("kaiko: decode instruments: %w", err)
	}

	out := make([]providerapi.PairExchange, 0, len(resp.Data))
	for i, e := range resp.Data {
		if i >= providerapi.MaxPaginationPages*1000 {
			break
		}
		if e.Class != "spot" || e.BaseAsset == "" || e.QuoteAsset == "" {
			continue
		}
		out = append(out, providerapi.PairExchange{Exchange: e.ExchangeCode, From: e.BaseAsset, To: e.QuoteAsset})
	}
	return out, nil
}

type ohlcvResponse struct {
	Data []struct {
		Timestamp int64   `json:"timestamp"`
		Open      string  `json:"open"`
		High      string  `json:"high"`
		Low       string  `json:"low"`
		Close     string  `json:"close"`
		Volume    string  `json:"volume"`
	} `json:"data"`
}

// FetchHistoSeries returns OHLCV points via Kaiko's trades aggregations
// endpoint.
func (c *Client) FetchHistoSeries(ctx context.Context, pairExchangeID string, granularity ids.Granularity, limit int) ([]providerapi.OHLCVPoint, error) {
	exchange, from, to, err := ids.Parse(pairExchangeID)
	if err != nil {
		return nil, fmt.Errorf("kaiko: %w", err)
	}

	interval := "1d"
	if granularity == ids.Hourly {
		interval = "1h"
	}

	endpoint := fmt.Sprintf("/market-data/api/v2/data/trades.v1/exchanges/%s/spot/%s-%s/aggregations/ohlcv?interval=%s",
		exchange, from, to, interval)
	if limit > 0 {
		endpoint += "&page_size=" + strconv.Itoa(limit)
	}

	data, err := c.makeRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp ohlcvResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("kaiko: decode ohlcv: %w", err)
	}

	out := make([]providerapi.OHLCVPoint, 0, len(resp.Data))
	for _, p := range resp.Data {
		out = append(out, providerapi.OHLCVPoint{
			Time:   time.UnixMilli(p.Timestamp).UTC(),
			Open:   parseDecimalOrZero(p.Open),
			High:   parseDecimalOrZero(p.High),
			Low:    parseDecimalOrZero(p.Low),
			Close:  parseDecimalOrZero(p.Close),
			Volume: parseDecimalOrZero(p.Volume),
		})
	}
	return out, nil
}

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// splitInstrumentID splits a Kaiko instrument id ("btc-usd") into its base
// and quote assets.
func splitInstrumentID(instrumentID string) (base, quote string, ok bool) {
	for i, r := range instrumentID {
		if r == '-' {
			return instrumentID[:i], instrumentID[i+1:], i > 0 && i < len(instrumentID)-1
		}
	}
	return "", "", false
}

type wssTrade struct {
	ExchangeCode string `json:"exchange_code"`
	InstrumentID string `json:"instrument_id"`
	Price        string `json:"price"`
	Timestamp    int64  `json:"timestamp"`
}

// SubscribePriceUpdate opens Kaiko's websocket trade feed when USE_KAIKO_WSS
// is set. Otherwise it returns a channel that stays open until unsubscribe
// or ctx cancellation and emits no price updates.
func (c *Client) SubscribePriceUpdate(ctx context.Context) (<-chan providerapi.PriceUpdate, providerapi.Unsubscribe, error) {
	if !c.useWSS {
		return c.subscribePoll(ctx)
	}
	return c.subscribeWSS(ctx)
}

func (c *Client) subscribePoll(ctx context.Context) (<-chan providerapi.PriceUpdate, providerapi.Unsubscribe, error) {
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

func (c *Client) subscribeWSS(ctx context.Context) (<-chan providerapi.PriceUpdate, providerapi.Unsubscribe, error) {
	header := http.Header{}
	header.Set("X-Api-Key", c.wssAPIKey)

	conn, _, err := c.dialer.DialContext(ctx, c.wssURL+"/stream/trades", header)
	if err != nil {
		return nil, nil, fmt.Errorf("kaiko: websocket dial: %w", err)
	}

	ch := make(chan providerapi.PriceUpdate)
	stopCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			select {
			case <-stopCtx.Done():
				return
			default:
			}

			var trade wssTrade
			if err := conn.ReadJSON(&trade); err != nil {
				return
			}

			price, perr := decimal.NewFromString(trade.Price)
			if perr != nil {
				continue
			}

			from, to, ok := splitInstrumentID(trade.InstrumentID)
			if !ok {
				continue
			}

			update := providerapi.PriceUpdate{
				PairExchangeID: ids.Build(trade.ExchangeCode, from, to),
				Price:          price,
				At:             time.UnixMilli(trade.Timestamp).UTC(),
			}

			select {
			case ch <- update:
			case <-stopCtx.Done():
				return
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
		conn.Close()
	}
	return ch, unsubscribe, nil
}

type errorResponse struct {
	Message string `json:"message"`
}

func (c *Client) makeRequest(ctx context.Context, endpoint string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("kaiko: rate limit wait cancelled: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("kaiko: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kaiko: network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kaiko: read response: %w", err)
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
	return fmt.Errorf("kaiko: %s", msg)
}

var _ providerapi.Provider = (*Client)(nil)
