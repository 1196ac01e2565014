// Package registry holds the fixed set of known tickers and their decimal
// magnitudes, and the conversion helper built on top of them.
package registry

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// UnknownTickerError is returned when a ticker is queried that the registry
// does not know about. Callers are expected to pre-filter with IsSupported.
type UnknownTickerError struct {
	Ticker string
}

func (e *UnknownTickerError) Error() string {
	return fmt.Sprintf("registry: unknown ticker %q", e.Ticker)
}

// Registry is an immutable ticker -> magnitude table, plus a fiat/crypto
// classification used by the market-cap ranker to filter to crypto
// tickers only.
type Registry struct {
	magnitudes map[string]int
	fiat       map[string]bool
}

// New builds a Registry from an explicit ticker -> magnitude map and a set
// of tickers to classify as fiat (every other supported ticker is treated
// as crypto). Both maps are copied so later mutation of the caller's maps
// has no effect.
func New(entries map[string]int, fiatTickers map[string]bool) *Registry {
	m := make(map[string]int, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	f := make(map[string]bool, len(fiatTickers))
	for k, v := range fiatTickers {
		f[k] = v
	}
	return &Registry{magnitudes: m, fiat: f}
}

// Default returns the registry seeded with the common crypto coins, fiat
// currencies, and tokens cited throughout the specification.
func Default() *Registry {
	return New(map[string]int{
		// fiat
		"USD": 2, "EUR": 2, "GBP": 2, "JPY": 0, "CHF": 2, "CNY": 2,
		// crypto majors
		"BTC": 8, "ETH": 18, "LTC": 8, "BCH": 8, "XRP": 6, "XLM": 7,
		"DOGE": 8, "DASH": 8, "ZEC": 8, "ETC": 18, "EOS": 4, "TRX": 6,
		"ADA": 6, "DOT": 10, "SOL": 9, "AVAX": 18, "MATIC": 18, "LINK": 18,
		"UNI": 18, "ATOM": 6, "ALGO": 6, "XTZ": 6, "FIL": 18, "AAVE": 18,
		// stablecoins
		"USDT": 6, "USDC": 6, "DAI": 18,
	}, map[string]bool{
		"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true, "CNY": true,
	})
}

// Magnitude returns the decimal exponent mapping a raw unit of ticker to its
// smallest indivisible unit. Returns an *UnknownTickerError if ticker is not
// present.
func (r *Registry) Magnitude(ticker string) (int, error) {
	mag, ok := r.magnitudes[ticker]
	if !ok {
		return 0, &UnknownTickerError{Ticker: ticker}
	}
	return mag, nil
}

// IsSupported reports whether ticker is present in the registry.
func (r *Registry) IsSupported(ticker string) bool {
	_, ok := r.magnitudes[ticker]
	return ok
}

// IsCrypto reports whether ticker is supported and classified as a
// cryptocurrency (as opposed to fiat). Used by the market-cap ranker to
// filter an external ranking down to tickers this registry considers
// crypto.
func (r *Registry) IsCrypto(ticker string) bool {
	return r.IsSupported(ticker) && !r.fiat[ticker]
}

// CryptoTickers returns every supported ticker classified as crypto, in no
// particular order.
func (r *Registry) CryptoTickers() []string {
	out := make([]string, 0, len(r.magnitudes))
	for ticker := range r.magnitudes {
		if !r.fiat[ticker] {
			out = append(out, ticker)
		}
	}
	return out
}

// ToCentSatRate converts a raw observed close, expressed in "to" raw
// units per "from" raw unit, into the destination's smallest unit per the
// source's smallest unit: raw * 10^(mag(to) - mag(from)).
//
// Both tickers must be supported; callers should have already filtered with
// IsSupported, but ToCentSatRate still validates defensively since it is the
// point at which an unsupported ticker would corrupt a stored Rate. The
// result is a decimal.Decimal, not a float64, so repeated magnitude
// conversions across a long histo series never accumulate binary-float
// rounding error.
func (r *Registry) ToCentSatRate(from, to string, raw decimal.Decimal) (decimal.Decimal, error) {
	magFrom, err := r.Magnitude(from)
	if err != nil {
		return decimal.Zero, err
	}
	magTo, err := r.Magnitude(to)
	if err != nil {
		return decimal.Zero, err
	}
	exp := magTo - magFrom
	return raw.Shift(int32(exp)), nil
}
