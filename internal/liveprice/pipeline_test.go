package liveprice

import (
	"context"
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

type fakeStreamProvider struct {
	ch chan providerapi.PriceUpdate
}

func (p *fakeStreamProvider) Init(ctx context.Context) error { return nil }
func (p *fakeStreamProvider) FetchAvailablePairExchanges(ctx context.Context) ([]providerapi.PairExchange, error) {
	return nil, nil
}
func (p *fakeStreamProvider) FetchExchanges(ctx context.Context) ([]providerapi.Exchange, error) {
	return nil, nil
}
func (p *fakeStreamProvider) FetchHistoSeries(ctx context.Context, id string, g ids.Granularity, limit int) ([]providerapi.OHLCVPoint, error) {
	return nil, nil
}
func (p *fakeStreamProvider) SubscribePriceUpdate(ctx context.Context) (<-chan providerapi.PriceUpdate, providerapi.Unsubscribe, error) {
	return p.ch, func() {}, nil
}
func (p *fakeStreamProvider) Name() string { return "fake" }

// TestLiveBatchCoalescingS4 reproduces scenario S4: within one buffer
// window, only the last update per pair-exchange id survives the flush.
func TestLiveBatchCoalescingS4(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := memstore.New()
	reg := registry.Default()
	a := store.NewDefaultRecord("KRAKEN", "BTC", "USD")
	b := store.NewDefaultRecord("KRAKEN", "ETH", "USD")
	if err := st.InsertPairExchangeData(ctx, []*store.PairExchangeRecord{a, b}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ch := make(chan providerapi.PriceUpdate, 8)
	fp := &fakeStreamProvider{ch: ch}
	logger := obs.NewLogger("test", "")

	pipe := New(fp, st, reg, logger, nil, false)

	done := make(chan error, 1)
	go func() { done <- pipe.Run(ctx) }()

	ch <- providerapi.PriceUpdate{PairExchangeID: a.ID, Price: decimal.NewFromInt(10)}
	ch <- providerapi.PriceUpdate{PairExchangeID: b.ID, Price: decimal.NewFromInt(20)}
	ch <- providerapi.PriceUpdate{PairExchangeID: a.ID, Price: decimal.NewFromInt(11)}
	ch <- providerapi.PriceUpdate{PairExchangeID: a.ID, Price: decimal.NewFromInt(12)}

	time.Sleep(BufferWindow + 200*time.Millisecond)
	cancel()
	<-done

	gotA, err := st.QueryPairExchangeByID(context.Background(), a.ID, nil)
	if err != nil {
		t.Fatalf("query a: %v", err)
	}
	gotB, err := st.QueryPairExchangeByID(context.Background(), b.ID, nil)
	if err != nil {
		t.Fatalf("query b: %v", err)
	}

	wantA, _ := reg.ToCentSatRate("BTC", "USD", decimal.NewFromInt(12))
	wantB, _ := reg.ToCentSatRate("ETH", "USD", decimal.NewFromInt(20))

	if !gotA.Latest.Equal(wantA) {
		t.Fatalf("expected A latest=%v, got %v", wantA, gotA.Latest)
	}
	if !gotB.Latest.Equal(wantB) {
		t.Fatalf("expected B latest=%v, got %v", wantB, gotB.Latest)
	}
}
