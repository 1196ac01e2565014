// Package engine orchestrates the throttled refresh operations that keep
// the persisted view of pair-exchanges, venues, and histo series bounded
// in staleness: the set of background operations that turn raw provider
// data into the store's normalised view.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"countervalue/internal/ids"
	"countervalue/internal/obs"
	"countervalue/internal/providerapi"
	"countervalue/internal/registry"
	"countervalue/internal/stats"
	"countervalue/internal/store"
	"countervalue/internal/throttle"

	"github.com/sirupsen/logrus"
)

// MarketCapSource is the abstract capability the market-cap refresh needs:
// an externally-ranked ordered list of crypto tickers. It is independent
// of providerapi.Provider because the market-cap source (e.g. the
// CoinMarketCap client in internal/providers/coinmarketcap) is not
// necessarily the same service as the price/histo provider.
type MarketCapSource interface {
	FetchRanking(ctx context.Context) ([]string, error)
}

const (
	pairExchangesWindow = time.Hour
	exchangesWindow     = time.Hour
	marketCapWindow     = time.Minute
	histoWindow         = 15 * time.Minute
)

// Engine wires a Provider and a Store behind the three/four throttled
// actions named in the specification.
type Engine struct {
	provider  providerapi.Provider
	marketCap MarketCapSource
	store     store.Store
	registry  *registry.Registry
	logger    *obs.Logger
	metrics   *obs.Metrics
	minDays   int

	availablePairExchanges *throttle.Throttled[struct{}]
	exchanges              *throttle.Throttled[struct{}]
	marketCapRefresh       *throttle.Throttled[*store.MarketCapSnapshot]

	histoThrottles sync.Map // key: id+":"+granularity -> *throttle.Throttled[store.Histo]
}

// New builds an Engine. minDays is the clamped MIN_DAYS value (see
// stats.ClampMinDays).
func New(provider providerapi.Provider, marketCap MarketCapSource, st store.Store, reg *registry.Registry, logger *obs.Logger, metrics *obs.Metrics, minDays int) *Engine {
	e := &Engine{
		provider: provider,
		marketCap: marketCap,
		store:     st,
		registry:  reg,
		logger:    logger,
		metrics:   metrics,
		minDays:   minDays,
	}

	e.availablePairExchanges = throttle.New(pairExchangesWindow, e.doRefreshAvailablePairExchanges)
	e.exchanges = throttle.New(exchangesWindow, e.doRefreshExchanges)
	e.marketCapRefresh = throttle.New(marketCapWindow, e.doRefreshMarketCap)

	return e
}

// RefreshAvailablePairExchanges fetches and caches the provider's spot
// pair list, throttled to once per hour.
func (e *Engine) RefreshAvailablePairExchanges(ctx context.Context) error {
	_, err := e.availablePairExchanges.Do(ctx)
	e.observeOutcome("available_pair_exchanges", err)
	return err
}

func (e *Engine) doRefreshAvailablePairExchanges(ctx context.Context) (struct{}, error) {
	pairs, err := e.provider.FetchAvailablePairExchanges(ctx)
	if err != nil {
		return struct{}{}, err
	}

	records := make([]*store.PairExchangeRecord, 0, len(pairs))
	for _, p := range pairs {
		if !e.registry.IsSupported(p.From) || !e.registry.IsSupported(p.To) {
			continue
		}
		records = append(records, store.NewDefaultRecord(p.Exchange, p.From, p.To))
	}

	if err := e.store.InsertPairExchangeData(ctx, records); err != nil {
		return struct{}{}, err
	}
	return struct{}{}, nil
}

// RefreshExchanges fetches and caches the provider's venue metadata,
// throttled to once per hour.
func (e *Engine) RefreshExchanges(ctx context.Context) error {
	_, err := e.exchanges.Do(ctx)
	e.observeOutcome("exchanges", err)
	return err
}

func (e *Engine) doRefreshExchanges(ctx context.Context) (struct{}, error) {
	exchanges, err := e.provider.FetchExchanges(ctx)
	if err != nil {
		return struct{}{}, err
	}

	records := make([]*store.ExchangeRecord, 0, len(exchanges))
	for _, ex := range exchanges {
		records = append(records, &store.ExchangeRecord{ID: ex.ID, Name: ex.Name, Website: ex.Website})
	}

	if err := e.store.UpdateExchanges(ctx, records); err != nil {
		return struct{}{}, err
	}
	return struct{}{}, nil
}

// RefreshMarketCap returns today's market-cap snapshot, throttled to once
// per minute (the daily gate is inside: within a day, once the snapshot is
// stored, further calls are served from the store without calling the
// market-cap source again).
func (e *Engine) RefreshMarketCap(ctx context.Context) (*store.MarketCapSnapshot, error) {
	snap, err := e.marketCapRefresh.Do(ctx)
	e.observeOutcome("market_cap", err)
	return snap, err
}

func (e *Engine) doRefreshMarketCap(ctx context.Context) (*store.MarketCapSnapshot, error) {
	today := ids.Daily.FormatKey(time.Now())

	existing, err := e.store.QueryMarketCapCoinsForDay(ctx, today)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	ranking, err := e.marketCap.FetchRanking(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]string, 0, len(ranking))
	for _, ticker := range ranking {
		if e.registry.IsCrypto(ticker) {
			filtered = append(filtered, ticker)
		}
	}

	if err := e.store.UpdateMarketCapCoins(ctx, today, filtered); err != nil {
		return nil, err
	}
	return &store.MarketCapSnapshot{Day: today, Coins: filtered}, nil
}

// RefreshHisto refreshes the histo series for (id, g), throttled per
// (id, g) to once per 15 minutes. A fast path additionally skips the
// provider call entirely when historyLoadedAt_g already equals the
// current bucket key for g — for Hourly this means the series in practice
// refreshes at most once per hour, even though the throttle window is
// 15 minutes (the specification's documented, intentionally-reproduced
// behaviour, not a bug introduced here).
func (e *Engine) RefreshHisto(ctx context.Context, id string, g ids.Granularity) (store.Histo, error) {
	key := id + ":" + g.String()
	v, _ := e.histoThrottles.LoadOrStore(key, throttle.New(histoWindow, func(ctx context.Context) (store.Histo, error) {
		return e.doRefreshHisto(ctx, id, g)
	}))
	th := v.(*throttle.Throttled[store.Histo])

	h, err := th.Do(ctx)
	e.observeOutcome("histo", err)
	return h, err
}

func (e *Engine) doRefreshHisto(ctx context.Context, id string, g ids.Granularity) (store.Histo, error) {
	now := time.Now()

	record, err := e.store.QueryPairExchangeByID(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("engine: unknown pair-exchange id %q", id)
	}

	currentKey := g.FormatKey(now)
	if record.HistoryLoadedAt(g) == currentKey {
		return record.Histo(g), nil
	}

	points, err := e.provider.FetchHistoSeries(ctx, id, g, 0)
	if err != nil {
		e.logger.WithPairExchange(id).WithError(err).Warn("histo refresh failed, serving cached histo")
		return record.Histo(g), nil
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Time.After(points[j].Time) })

	newHisto := store.Histo{}
	bucketWidth := g.Duration()
	for _, p := range points {
		rate, err := e.registry.ToCentSatRate(record.From, record.To, p.Close)
		if err != nil {
			e.logger.WithPairExchange(id).WithError(err).Warn("skipping unconvertible histo point")
			continue
		}
		if p.Time.After(now.Add(-bucketWidth)) {
			newHisto[ids.LatestKey] = rate
		} else {
			newHisto[g.FormatKey(p.Time)] = rate
		}
	}

	if err := e.store.UpdateHisto(ctx, id, g, newHisto); err != nil {
		return nil, err
	}

	historyLoadedAt := currentKey
	partial := store.PartialStats{LatestDate: timePtr(now)}
	if g == ids.Hourly {
		partial.HistoryLoadedAtHourly = &historyLoadedAt
	} else {
		partial.HistoryLoadedAtDaily = &historyLoadedAt
	}

	volumePoints := make([]stats.PointWithVolume, len(points))
	for i, p := range points {
		volumePoints[i] = stats.PointWithVolume{Time: p.Time, Volume: p.Volume}
	}
	yv := stats.YesterdayVolume(volumePoints, now)
	partial.YesterdayVolume = &yv

	if g == ids.Daily {
		if res, ok := stats.Derive(newHisto, now, e.minDays); ok {
			partial.HasHistoryFor30LastDays = res.Stats.HasHistoryFor30LastDays
			partial.HasHistoryFor1Year = res.Stats.HasHistoryFor1Year
			partial.OldestDayAgo = res.Stats.OldestDayAgo
			if res.ExtremeRatio {
				e.logger.WithPairExchange(id).WithFields(logrus.Fields{
					"event": "ExtremeRatioFound",
				}).Warn("extreme day-over-day ratio detected")
				if e.metrics != nil {
					e.metrics.ExtremeRatioTotal.WithLabelValues(id).Inc()
				}
			}
		}
	}

	if err := e.store.UpdatePairExchangeStats(ctx, id, partial); err != nil {
		return nil, err
	}

	return newHisto, nil
}

func (e *Engine) observeOutcome(kind string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if e.metrics != nil {
		e.metrics.RefreshTotal.WithLabelValues(kind, outcome).Inc()
	}
}

func timePtr(t time.Time) *time.Time { return &t }
