// Command sync runs the background refresh engine without the HTTP read
// API: the live-price pipeline, the paced prefetch walk, and periodic
// available-pair-exchange/exchange catalog refreshes. It is unified with
// cmd/server under HACK_SYNC_IN_SERVER for deployments too small to run
// two processes.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"countervalue/internal/config"
	"countervalue/internal/engine"
	"countervalue/internal/liveprice"
	"countervalue/internal/obs"
	"countervalue/internal/prefetch"
	"countervalue/internal/providers"
	"countervalue/internal/providers/coinmarketcap"
	"countervalue/internal/registry"
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

	c := cron.New()
	if _, err := c.AddFunc("@every 1h", func() {
		if err := eng.RefreshAvailablePairExchanges(ctx); err != nil {
			logger.WithError(err).Warn("available-pair-exchanges refresh failed")
		}
	}); err != nil {
		logger.WithError(err).Fatal("failed to schedule pair-exchange refresh")
	}
	if _, err := c.AddFunc("@every 1h", func() {
		if err := eng.RefreshExchanges(ctx); err != nil {
			logger.WithError(err).Warn("exchanges refresh failed")
		}
	}); err != nil {
		logger.WithError(err).Fatal("failed to schedule exchanges refresh")
	}

	if !cfg.Engine.DisablePrefetch {
		scheduler := prefetch.New(st, eng, logger)
		if _, err := c.AddFunc("@every 4h", func() {
			if err := scheduler.RunOnce(ctx); err != nil {
				logger.WithError(err).Warn("prefetch walk failed")
			}
		}); err != nil {
			logger.WithError(err).Fatal("failed to schedule prefetch walk")
		}
		go func() {
			if err := scheduler.RunOnce(ctx); err != nil {
				logger.WithError(err).Warn("initial prefetch walk failed")
			}
		}()
	}

	c.Start()
	defer c.Stop()

	if err := eng.RefreshAvailablePairExchanges(ctx); err != nil {
		logger.WithError(err).Warn("initial available-pair-exchanges refresh failed")
	}
	if err := eng.RefreshExchanges(ctx); err != nil {
		logger.WithError(err).Warn("initial exchanges refresh failed")
	}

	pipeline := liveprice.New(provider, st, reg, logger, metrics, cfg.LiveRates.DebugBatches)
	supervisor := liveprice.NewSupervisor(pipeline, logger)

	logger.Info("sync supervisor started")
	supervisor.Run(ctx)
	logger.Info("sync supervisor exited")
}
