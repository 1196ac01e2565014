// Package providerapi defines the capability set a market-data source must
// satisfy, and the value types exchanged across that boundary. It carries no
// transport code; concrete adapters live under internal/providers/*.
package providerapi

import (
	"context"
	"time"

	"countervalue/internal/ids"

	"github.com/shopspring/decimal"
)

// PairExchange is the unordered-at-the-provider-boundary triple a provider
// enumerates; From/To are raw ticker symbols, not yet validated against the
// registry.
type PairExchange struct {
	Exchange string
	From     string
	To       string
}

// ID returns the canonical identifier for this pair-exchange.
func (p PairExchange) ID() string {
	return ids.Build(p.Exchange, p.From, p.To)
}

// Exchange describes a trading venue as reported by a provider.
type Exchange struct {
	ID      string
	Name    string
	Website string
}

// OHLCVPoint is a single observed candle as produced by a provider. Close is
// the raw, not-yet-normalised observed price.
type OHLCVPoint struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// PriceUpdate is a single inbound tick from a provider's live-price stream,
// already filtered to tickers the provider considers supported. Conversion
// to a centSat rate is the pipeline's job, not the provider's.
type PriceUpdate struct {
	PairExchangeID string
	Price          decimal.Decimal
	At             time.Time
}

// Unsubscribe closes a live-price subscription. It is idempotent: calling it
// more than once has no additional effect, and it closes the underlying
// transport exactly once.
type Unsubscribe func()

// ConfigError indicates a provider failed its one-time readiness check
// (missing/invalid credentials, unreachable endpoint configuration). It is
// fatal at process startup.
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	return "providerapi: " + e.Provider + ": config error: " + e.Reason
}

// Provider is the abstract capability set a market-data source must
// satisfy, per the specification's provider contract.
type Provider interface {
	// Init performs a one-time readiness check (e.g. verifying
	// credentials). It must fail fast with a *ConfigError.
	Init(ctx context.Context) error

	// FetchAvailablePairExchanges enumerates all spot pairs the provider
	// offers. Callers, not the provider, filter to tickers the registry
	// supports.
	FetchAvailablePairExchanges(ctx context.Context) ([]PairExchange, error)

	// FetchExchanges enumerates the trading venues this provider knows
	// about.
	FetchExchanges(ctx context.Context) ([]Exchange, error)

	// FetchHistoSeries returns OHLCV points for a pair-exchange and
	// granularity. Order is implementation-defined; callers must sort.
	// limit, when > 0, caps the number of points requested.
	FetchHistoSeries(ctx context.Context, pairExchangeID string, granularity ids.Granularity, limit int) ([]OHLCVPoint, error)

	// SubscribePriceUpdate opens a cold subscription producing inbound
	// price ticks. The returned Unsubscribe closes the underlying
	// transport exactly once; reconnection policy belongs to the caller.
	SubscribePriceUpdate(ctx context.Context) (<-chan PriceUpdate, Unsubscribe, error)

	// Name identifies the provider for logging and metrics.
	Name() string
}

// MaxPaginationPages bounds a provider's catalog enumeration. The adapters
// under internal/providers stop at MaxPaginationPages*1000 catalog entries
// (cryptocompare: collected pairs) and return what they have; reaching the
// cap is not logged.
const MaxPaginationPages = 100
