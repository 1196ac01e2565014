// Package config loads process configuration from the environment (and an
// optional .env file in local development), following the teacher's
// viper-backed Config struct with typed sub-sections per concern.
package config

import (
	"fmt"
	"strings"
	"time"

	"countervalue/internal/stats"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Providers ProvidersConfig
	Engine    EngineConfig
	LiveRates LiveRatesConfig
	Cache     CacheConfig
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Port        int
	Environment string
	LogPath     string
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Driver       string // "mongodb"
	MongoURI     string
	DatabaseName string
}

// ProvidersConfig selects and configures the market-data adapter.
type ProvidersConfig struct {
	Name            string // "coinapi" | "cryptocompare" | "kaiko"
	CoinAPIKey      string
	KaikoKey        string
	KaikoKeyWSS     string
	KaikoRegion     string
	KaikoAPIVersion string
	UseKaikoWSS     bool
	CMCAPIKey       string
}

// EngineConfig configures the refresh engine and background schedulers.
type EngineConfig struct {
	BlacklistExchanges []string
	// MinimalDaysToConsider has already been passed through
	// stats.ClampMinDays (20 when unset, otherwise the override capped at
	// 30); callers use it directly as MIN_DAYS.
	MinimalDaysToConsider int
	DisablePrefetch       bool
	HackSyncInServer      bool
}

// LiveRatesConfig configures the live-price pipeline.
type LiveRatesConfig struct {
	DebugBatches bool
}

// CacheConfig configures the Redis-backed HTTP response cache. Disabled
// (Addr == "") by default; set REDIS_ADDR to enable it.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Load reads configuration from the environment, loading a .env file first
// if present (ignored if absent — a production deployment sets real env
// vars instead).
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PORT", 8088)
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_PATH", "")

	v.SetDefault("DATABASE", "mongodb")
	v.SetDefault("MONGODB_URI", "mongodb://localhost:27017/ledger-countervalue")
	v.SetDefault("MONGODB_DATABASE", "ledger-countervalue")

	v.SetDefault("PROVIDER", "coinapi")
	v.SetDefault("KAIKO_REGION", "eu")
	v.SetDefault("KAIKO_API_VERSION", "v1")
	v.SetDefault("USE_KAIKO_WSS", false)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_CACHE_TTL_SECONDS", 30)

	v.SetDefault("BLACKLIST_EXCHANGES", "")
	v.SetDefault("MINIMAL_DAYS_TO_CONSIDER_EXCHANGE", 0)
	v.SetDefault("DISABLE_PREFETCH", false)
	v.SetDefault("HACK_SYNC_IN_SERVER", false)
	v.SetDefault("DEBUG_LIVE_RATES", false)

	rawMinDays := v.GetInt("MINIMAL_DAYS_TO_CONSIDER_EXCHANGE")
	minDaysOverride := stats.ClampMinDays(rawMinDays, rawMinDays > 0)

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetInt("PORT"),
			Environment: v.GetString("ENVIRONMENT"),
			LogPath:     v.GetString("LOG_PATH"),
		},
		Database: DatabaseConfig{
			Driver:       v.GetString("DATABASE"),
			MongoURI:     v.GetString("MONGODB_URI"),
			DatabaseName: v.GetString("MONGODB_DATABASE"),
		},
		Providers: ProvidersConfig{
			Name:            v.GetString("PROVIDER"),
			CoinAPIKey:      v.GetString("COINAPI_KEY"),
			KaikoKey:        v.GetString("KAIKO_KEY"),
			KaikoKeyWSS:     v.GetString("KAIKO_KEY_WSS"),
			KaikoRegion:     v.GetString("KAIKO_REGION"),
			KaikoAPIVersion: v.GetString("KAIKO_API_VERSION"),
			UseKaikoWSS:     v.GetBool("USE_KAIKO_WSS"),
			CMCAPIKey:       v.GetString("CMC_API_KEY"),
		},
		Engine: EngineConfig{
			BlacklistExchanges:    splitNonEmpty(v.GetString("BLACKLIST_EXCHANGES")),
			MinimalDaysToConsider: minDaysOverride,
			DisablePrefetch:       v.GetBool("DISABLE_PREFETCH"),
			HackSyncInServer:      v.GetBool("HACK_SYNC_IN_SERVER"),
		},
		LiveRates: LiveRatesConfig{
			DebugBatches: v.GetBool("DEBUG_LIVE_RATES"),
		},
		Cache: CacheConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			TTL:      time.Duration(v.GetInt("REDIS_CACHE_TTL_SECONDS")) * time.Second,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mongodb":
	default:
		return fmt.Errorf("config: unknown DATABASE %q", c.Database.Driver)
	}

	switch c.Providers.Name {
	case "coinapi":
		if c.Providers.CoinAPIKey == "" {
			return fmt.Errorf("config: COINAPI_KEY is required when PROVIDER=coinapi")
		}
	case "cryptocompare":
	case "kaiko":
		if c.Providers.KaikoKey == "" {
			return fmt.Errorf("config: KAIKO_KEY is required when PROVIDER=kaiko")
		}
	default:
		return fmt.Errorf("config: unknown PROVIDER %q", c.Providers.Name)
	}

	return nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// IsProduction reports whether the server is configured for production
// logging/output.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// ShutdownTimeout is the grace period cmd/server allows for in-flight
// requests to finish before a forced exit.
const ShutdownTimeout = 10 * time.Second
