// Command server runs the read-facing HTTP API: the counter-value cache's
// getHisto/getExchanges/health surface, plus (when HACK_SYNC_IN_SERVER is
// set) the background refresh engine co-located in the same process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"countervalue/internal/config"
	"countervalue/internal/engine"
	"countervalue/internal/httpapi"
	"countervalue/internal/liveprice"
	"countervalue/internal/marketcap"
	"countervalue/internal/obs"
	"countervalue/internal/prefetch"
	"countervalue/internal/providerapi"
	"countervalue/internal/providers"
	"countervalue/internal/providers/coinmarketcap"
	"countervalue/internal/read"
	"countervalue/internal/registry"
	"countervalue/internal/store"
	"countervalue/internal/store/mongostore"

	"github.com/robfig/cron/v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}

	logger := obs.NewLogger(cfg.Server.Environment, cfg.Server.LogPath)
	metrics := obs.NewMetrics()
	reg := registry.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := mongostore.Connect(ctx, cfg.Database.MongoURI, cfg.Database.DatabaseName)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to mongodb")
	}
	defer st.Close(context.Background())

	provider, err := providers.New(cfg.Providers)
	if err != nil {
		logger.WithError(err).Fatal("failed to build provider")
	}
	if err := provider.Init(ctx); err != nil {
		logger.WithError(err).Fatal("provider failed readiness check")
	}

	marketCapSource := coinmarketcap.NewClient(cfg.Providers.CMCAPIKey)
	eng := engine.New(provider, marketCapSource, st, reg, logger, metrics, cfg.Engine.MinimalDaysToConsider)

	if cfg.Engine.HackSyncInServer {
		startBackgroundSync(ctx, cfg, eng, provider, st, reg, logger, metrics)
	}

	var cache *httpapi.ResponseCache
	if cfg.Cache.Addr != "" {
		cache, err = httpapi.NewResponseCache(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB, cfg.Cache.TTL)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to redis response cache")
		}
		defer cache.Close()
	}

	ranker := marketcap.New(eng)
	service := read.New(eng, st, ranker, logger, cfg.Engine.BlacklistExchanges)
	server := httpapi.New(service, st, reg, logger, metrics, cache, "dev")

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("countervalue server listening on %s (environment: %s)", httpServer.Addr, cfg.Server.Environment)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server forced to shutdown")
	}
	logger.Info("server exited")
}

// startBackgroundSync launches the live-price supervisor and the paced
// prefetch walk in the background, for deployments small enough to run
// sync inline rather than as the separate cmd/sync process.
func startBackgroundSync(
	ctx context.Context,
	cfg *config.Config,
	eng *engine.Engine,
	provider providerapi.Provider,
	st store.Store,
	reg *registry.Registry,
	logger *obs.Logger,
	metrics *obs.Metrics,
) {
	pipeline := liveprice.New(provider, st, reg, logger, metrics, cfg.LiveRates.DebugBatches)
	supervisor := liveprice.NewSupervisor(pipeline, logger)
	go supervisor.Run(ctx)

	if cfg.Engine.DisablePrefetch {
		return
	}

	scheduler := prefetch.New(st, eng, logger)
	c := cron.New()
	_, err := c.AddFunc("@every 4h", func() {
		if err := scheduler.RunOnce(ctx); err != nil {
			logger.WithError(err).Warn("prefetch walk failed")
		}
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to schedule prefetch walk")
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	go func() {
		if err := scheduler.RunOnce(ctx); err != nil {
			logger.WithError(err).Warn("initial prefetch walk failed")
		}
	}()
}
