// Package providers selects and constructs the concrete providerapi.Provider
// named by configuration.
package providers

import (
	"fmt"

	"countervalue/internal/config"
	"countervalue/internal/providerapi"
	"countervalue/internal/providers/coinapi"
	"countervalue/internal/providers/cryptocompare"
	"countervalue/internal/providers/kaiko"
)

// New builds the Provider named by cfg.Providers.Name.
func New(cfg config.ProvidersConfig) (providerapi.Provider, error) {
	switch cfg.Name {
	case "coinapi":
		return coinapi.NewClient(coinapi.Config{APIKey: cfg.CoinAPIKey}), nil
	case "cryptocompare":
		// CryptoCompare's market data endpoints used here are served on its
		// free, unauthenticated tier; CMCAPIKey belongs to the CoinMarketCap
		// market-cap source, a separate concern.
		return cryptocompare.NewClient(cryptocompare.Config{}), nil
	case "kaiko":
		return kaiko.NewClient(kaiko.Config{
			APIKey:     cfg.KaikoKey,
			WSSAPIKey:  cfg.KaikoKeyWSS,
			Region:     cfg.KaikoRegion,
			APIVersion: cfg.KaikoAPIVersion,
			UseWSS:     cfg.UseKaikoWSS,
		}), nil
	default:
		return nil, fmt.Errorf("providers: unknown provider %q", cfg.Name)
	}
}
