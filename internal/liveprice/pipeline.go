// Package liveprice implements the subscribe → filter/normalise →
// time-buffer → coalesce → store pipeline, and the supervisor that keeps
// it running across provider disconnects and forced recycles.
package liveprice

import (
	"context"
	"sync"
	"time"

	"countervalue/internal/ids"
	"countervalue/internal/obs"
	"countervalue/internal/providerapi"
	"countervalue/internal/registry"
	"countervalue/internal/store"
)

// BufferWindow is the live-rate coalescing window (§4.H step 4).
const BufferWindow = time.Second

// Pipeline subscribes to one provider's live-price stream and writes
// coalesced batches to the store.
type Pipeline struct {
	provider providerapi.Provider
	store    store.Store
	registry *registry.Registry
	logger   *obs.Logger
	metrics  *obs.Metrics

	debugBatches bool
}

// New builds a Pipeline. debugBatches mirrors DEBUG_LIVE_RATES: when true,
// every flushed batch is logged regardless of size.
func New(provider providerapi.Provider, st store.Store, reg *registry.Registry, logger *obs.Logger, metrics *obs.Metrics, debugBatches bool) *Pipeline {
	return &Pipeline{provider: provider, store: st, registry: reg, logger: logger, metrics: metrics, debugBatches: debugBatches}
}

// Run opens one subscription and drains it until ctx is cancelled or the
// provider's stream completes naturally, whichever happens first. It
// returns nil on a clean completion (channel closed by the provider) and
// a non-nil error if the subscription itself could not be opened or the
// context was cancelled.
//
// Run unsubscribes exactly once before returning, on every exit path.
func (p *Pipeline) Run(ctx context.Context) error {
	updates, unsubscribe, err := p.provider.SubscribePriceUpdate(ctx)
	if err != nil {
		return err
	}
	acquireWebsocketSlot(p.logger)
	if p.metrics != nil {
		p.metrics.WebsocketOpen.Inc()
	}
	defer func() {
		unsubscribe()
		releaseWebsocketSlot()
		if p.metrics != nil {
			p.metrics.WebsocketOpen.Dec()
		}
	}()

	ticker := time.NewTicker(BufferWindow)
	defer ticker.Stop()

	batch := make(map[string]store.LiveRateUpdate)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		updatesList := make([]store.LiveRateUpdate, 0, len(batch))
		for _, u := range batch {
			updatesList = append(updatesList, u)
		}
		if p.debugBatches {
			p.logger.WithField("batch_size", len(updatesList)).Info("flushing live-rate batch")
		}
		if p.metrics != nil {
			p.metrics.LiveBatchSize.Observe(float64(len(updatesList)))
		}
		if err := p.store.UpdateLiveRates(ctx, updatesList); err != nil {
			p.logger.WithError(err).Warn("live-rate batch write failed")
		}
		batch = make(map[string]store.LiveRateUpdate)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()

		case u, ok := <-updates:
			if !ok {
				flush()
				return nil
			}
			p.normalizeAndBuffer(u, batch)

		case <-ticker.C:
			flush()
		}
	}
}

func (p *Pipeline) normalizeAndBuffer(u providerapi.PriceUpdate, batch map[string]store.LiveRateUpdate) {
	_, from, to, err := ids.Parse(u.PairExchangeID)
	if err != nil {
		p.logger.WithField("pair_exchange_id", u.PairExchangeID).Warn("discarding live update with malformed id")
		return
	}
	if !p.registry.IsSupported(from) || !p.registry.IsSupported(to) {
		return
	}

	rate, err := p.registry.ToCentSatRate(from, to, u.Price)
	if err != nil {
		return
	}

	batch[u.PairExchangeID] = store.LiveRateUpdate{PairExchangeID: u.PairExchangeID, Rate: rate}
}

// websocketOpen is process-wide state, per spec.md §9 "Global state":
// exceeding MaxWebsocket concurrent subscriptions is a programming error
// and is fatal.
var websocketOpen int32
var websocketMu sync.Mutex

// MaxWebsocket bounds concurrent live-price subscriptions across the
// whole process.
const MaxWebsocket = 2

// acquireWebsocketSlot increments the global counter, calling
// logger.Fatal if doing so would exceed MaxWebsocket.
func acquireWebsocketSlot(logger *obs.Logger) {
	websocketMu.Lock()
	defer websocketMu.Unlock()
	websocketOpen++
	if websocketOpen > MaxWebsocket {
		logger.WithField("websocket_open", websocketOpen).Fatal("MAX_WEBSOCKET exceeded")
	}
}

func releaseWebsocketSlot() {
	websocketMu.Lock()
	defer websocketMu.Unlock()
	if websocketOpen > 0 {
		websocketOpen--
	}
}
