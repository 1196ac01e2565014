package read

import (
	"context"
	"testing"

	"countervalue/internal/ids"
	"countervalue/internal/marketcap"
	"countervalue/internal/obs"
	"countervalue/internal/store"
	"countervalue/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	histo map[string]store.Histo
}

func (f *fakeEngine) RefreshAvailablePairExchanges(ctx context.Context) error { return nil }
func (f *fakeEngine) RefreshExchanges(ctx context.Context) error             { return nil }
func (f *fakeEngine) RefreshHisto(ctx context.Context, id string, g ids.Granularity) (store.Histo, error) {
	return f.histo[id], nil
}

type fakeMarketCapRefresher struct{}

func (fakeMarketCapRefresher) RefreshMarketCap(ctx context.Context) (*store.MarketCapSnapshot, error) {
	return &store.MarketCapSnapshot{Day: "2026-07-29", Coins: []string{"BTC", "ETH"}}, nil
}

// TestGetHistoCandidateSelectionS5 reproduces scenario S5.
func TestGetHistoCandidateSelectionS5(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	x := store.NewDefaultRecord("KRAKEN", "BTC", "USD")
	x.HasHistoryFor1Year = true
	x.YesterdayVolume = decimal.NewFromInt(10)

	y := store.NewDefaultRecord("BITSTAMP", "BTC", "USD")
	y.HasHistoryFor1Year = false
	y.YesterdayVolume = decimal.NewFromInt(1000)

	require.NoError(t, st.InsertPairExchangeData(ctx, []*store.PairExchangeRecord{y, x}))

	eng := &fakeEngine{histo: map[string]store.Histo{
		x.ID: {ids.LatestKey: decimal.NewFromInt(1)},
	}}
	ranker := marketcap.New(fakeMarketCapRefresher{})
	logger := obs.NewLogger("test", "")
	svc := New(eng, st, ranker, logger, nil)

	resp := svc.GetHisto(ctx, []RequestPair{{From: "BTC", To: "USD"}}, ids.Daily)

	data, ok := resp["USD"]["BTC"]["KRAKEN"]
	require.True(t, ok, "expected KRAKEN (X) to be selected, got response: %+v", resp)
	assert.True(t, data.Latest.Equal(x.Latest), "expected latest rate from X's record")
}

func TestGetHistoHonorsExplicitExchange(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	x := store.NewDefaultRecord("KRAKEN", "BTC", "USD")
	x.HasHistoryFor1Year = true
	y := store.NewDefaultRecord("BITSTAMP", "BTC", "USD")

	require.NoError(t, st.InsertPairExchangeData(ctx, []*store.PairExchangeRecord{x, y}))

	eng := &fakeEngine{histo: map[string]store.Histo{
		y.ID: {ids.LatestKey: decimal.NewFromInt(7)},
	}}
	ranker := marketcap.New(fakeMarketCapRefresher{})
	logger := obs.NewLogger("test", "")
	svc := New(eng, st, ranker, logger, nil)

	resp := svc.GetHisto(ctx, []RequestPair{{From: "BTC", To: "USD", Exchange: "BITSTAMP"}}, ids.Daily)

	_, ok := resp["USD"]["BTC"]["BITSTAMP"]
	assert.True(t, ok, "expected explicit exchange BITSTAMP to be honored, got %+v", resp)
}

func TestGetHistoBlacklistFiltersExchange(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	blocked := store.NewDefaultRecord("SHADYEX", "BTC", "USD")
	require.NoError(t, st.InsertPairExchangeData(ctx, []*store.PairExchangeRecord{blocked}))

	eng := &fakeEngine{histo: map[string]store.Histo{}}
	ranker := marketcap.New(fakeMarketCapRefresher{})
	logger := obs.NewLogger("test", "")
	svc := New(eng, st, ranker, logger, []string{"ShadyEx"})

	resp := svc.GetHisto(ctx, []RequestPair{{From: "BTC", To: "USD"}}, ids.Daily)

	assert.Empty(t, resp, "expected blacklisted exchange to be excluded entirely")
}

func TestGetDailyMarketCapCoinsPassthrough(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	eng := &fakeEngine{}
	ranker := marketcap.New(fakeMarketCapRefresher{})
	logger := obs.NewLogger("test", "")
	svc := New(eng, st, ranker, logger, nil)

	coins, err := svc.GetDailyMarketCapCoins(ctx)
	require.NoError(t, err)
	assert.Len(t, coins, 2)
}
