package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"countervalue/internal/ids"
	"countervalue/internal/obs"
	"countervalue/internal/providerapi"
	"countervalue/internal/registry"
	"countervalue/internal/store"
	"countervalue/internal/store/memstore"

	"github.com/shopspring/decimal"
)

type fakeProvider struct {
	name          string
	histoCalls    int32
	histoPoints   []providerapi.OHLCVPoint
	histoErrFirst bool
}

func (p *fakeProvider) Init(ctx context.Context) error { return nil }

func (p *fakeProvider) FetchAvailablePairExchanges(ctx context.Context) ([]providerapi.PairExchange, error) {
	return []providerapi.PairExchange{
		{Exchange: "KRAKEN", From: "BTC", To: "USD"},
		{Exchange: "KRAKEN", From: "NOPE", To: "USD"},
	}, nil
}

func (p *fakeProvider) FetchExchanges(ctx context.Context) ([]providerapi.Exchange, error) {
	return []providerapi.Exchange{{ID: "KRAKEN", Name: "Kraken"}}, nil
}

func (p *fakeProvider) FetchHistoSeries(ctx context.Context, id string, g ids.Granularity, limit int) ([]providerapi.OHLCVPoint, error) {
	n := atomic.AddInt32(&p.histoCalls, 1)
	if p.histoErrFirst && n == 1 {
		return nil, errors.New("upstream unavailable")
	}
	return p.histoPoints, nil
}

func (p *fakeProvider) SubscribePriceUpdate(ctx context.Context) (<-chan providerapi.PriceUpdate, providerapi.Unsubscribe, error) {
	ch := make(chan providerapi.PriceUpdate)
	return ch, func() { close(ch) }, nil
}

func (p *fakeProvider) Name() string { return p.name }

func newTestEngine(t *testing.T, provider providerapi.Provider) (*Engine, store.Store) {
	t.Helper()
	st := memstore.New()
	reg := registry.Default()
	logger := obs.NewLogger("test", "")
	e := New(provider, nil, st, reg, logger, nil, 20)
	return e, st
}

// TestRefreshHistoS2 reproduces scenario S2 from the specification, with
// each point an hour inside its window: the "latest" cut-off (now-24h) and
// the yesterday-volume window's lower bound (now-48h) are both exclusive.
// The newer point becomes "latest"; the older one is stored under its day
// key and, as the second-most-recent point, supplies yesterdayVolume.
func TestRefreshHistoS2(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	fp := &fakeProvider{
		histoPoints: []providerapi.OHLCVPoint{
			{Time: now.Add(-23 * time.Hour), Close: decimal.NewFromInt(100), Volume: decimal.NewFromInt(5)},
			{Time: now.Add(-47 * time.Hour), Close: decimal.NewFromInt(110), Volume: decimal.NewFromInt(7)},
		},
	}
	e, st := newTestEngine(t, fp)

	rec := store.NewDefaultRecord("KRAKEN", "BTC", "USD")
	if err := st.InsertPairExchangeData(ctx, []*store.PairExchangeRecord{rec}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	histo, err := e.RefreshHisto(ctx, rec.ID, ids.Daily)
	if err != nil {
		t.Fatalf("RefreshHisto: %v", err)
	}

	wantLatest, _ := e.registry.ToCentSatRate("BTC", "USD", decimal.NewFromInt(100))
	if got, ok := histo[ids.LatestKey]; !ok || !got.Equal(wantLatest) {
		t.Fatalf("expected latest=%v, got %v (present=%v)", wantLatest, got, ok)
	}

	twoDaysAgoKey := ids.Daily.FormatKey(now.Add(-47 * time.Hour))
	wantOld, _ := e.registry.ToCentSatRate("BTC", "USD", decimal.NewFromInt(110))
	if got, ok := histo[twoDaysAgoKey]; !ok || !got.Equal(wantOld) {
		t.Fatalf("expected %s=%v, got %v (present=%v)", twoDaysAgoKey, wantOld, got, ok)
	}

	updated, err := st.QueryPairExchangeByID(ctx, rec.ID, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !updated.YesterdayVolume.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected yesterdayVolume=7, got %v", updated.YesterdayVolume)
	}
	if updated.LatestDate == nil {
		t.Fatal("expected latestDate to be set")
	}
	if updated.HistoryLoadedAtDaily != ids.Daily.FormatKey(now) {
		t.Fatalf("expected historyLoadedAt_daily=%s, got %s", ids.Daily.FormatKey(now), updated.HistoryLoadedAtDaily)
	}
}

// TestRefreshHistoThrottleS3 reproduces the coalescing half of scenario S3:
// two calls within the window coalesce to one provider call. The
// error-invalidation half is covered at the throttle level by
// TestErrorInvalidatesCache; at the engine level a provider failure falls
// back to the cached histo (see TestRefreshHistoFallsBackOnProviderError).
func TestRefreshHistoThrottleS3(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	fp := &fakeProvider{
		histoPoints: []providerapi.OHLCVPoint{
			{Time: now.Add(-24 * time.Hour), Close: decimal.NewFromInt(100), Volume: decimal.NewFromInt(5)},
		},
	}
	e, st := newTestEngine(t, fp)

	rec := store.NewDefaultRecord("KRAKEN", "BTC", "USD")
	if err := st.InsertPairExchangeData(ctx, []*store.PairExchangeRecord{rec}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := e.RefreshHisto(ctx, rec.ID, ids.Daily); err != nil {
		t.Fatalf("first RefreshHisto: %v", err)
	}
	if _, err := e.RefreshHisto(ctx, rec.ID, ids.Daily); err != nil {
		t.Fatalf("second RefreshHisto: %v", err)
	}

	if fp.histoCalls != 1 {
		t.Fatalf("expected exactly 1 provider call for two throttled refreshes, got %d", fp.histoCalls)
	}
}

// TestRefreshHistoFallsBackOnProviderError asserts that when the upstream
// fetch fails, RefreshHisto returns the record's cached histo and no error.
func TestRefreshHistoFallsBackOnProviderError(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	fp := &fakeProvider{histoErrFirst: true, histoPoints: []providerapi.OHLCVPoint{
		{Time: now.Add(-24 * time.Hour), Close: decimal.NewFromInt(100), Volume: decimal.NewFromInt(5)},
	}}
	e, st := newTestEngine(t, fp)

	rec := store.NewDefaultRecord("KRAKEN", "BTC", "USD")
	rec.HistoDaily = store.Histo{ids.LatestKey: decimal.NewFromInt(42)}
	if err := st.InsertPairExchangeData(ctx, []*store.PairExchangeRecord{rec}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	histo, err := e.RefreshHisto(ctx, rec.ID, ids.Daily)
	if err != nil {
		t.Fatalf("expected fallback to cached histo, not an error: %v", err)
	}
	if !histo[ids.LatestKey].Equal(decimal.NewFromInt(42)) {
		t.Fatalf("expected cached histo to be returned on provider failure, got %v", histo)
	}
}

func TestRefreshAvailablePairExchangesFiltersUnsupportedTickers(t *testing.T) {
	ctx := context.Background()
	fp := &fakeProvider{}
	e, st := newTestEngine(t, fp)

	if err := e.RefreshAvailablePairExchanges(ctx); err != nil {
		t.Fatalf("RefreshAvailablePairExchanges: %v", err)
	}

	pairIDs, err := st.QueryPairExchangeIDs(ctx)
	if err != nil {
		t.Fatalf("query ids: %v", err)
	}
	if len(pairIDs) != 1 {
		t.Fatalf("expected 1 pair-exchange record, got %d", len(pairIDs))
	}
}
