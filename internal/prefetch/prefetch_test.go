package prefetch

import (
	"context"
	"testing"
	"time"

	"countervalue/internal/ids"
	"countervalue/internal/obs"
	"countervalue/internal/store"
	"countervalue/internal/store/memstore"
)

type fakeRefresher struct {
	order []string
}

func (f *fakeRefresher) RefreshHisto(ctx context.Context, id string, g ids.Granularity) (store.Histo, error) {
	f.order = append(f.order, id+":"+g.String())
	return store.Histo{}, nil
}

func TestRunOnceOrdersByLatestDateDescNullsLast(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	now := time.Now()
	recent := store.NewDefaultRecord("KRAKEN", "BTC", "USD")
	recent.LatestDate = &now

	older := now.Add(-time.Hour)
	stale := store.NewDefaultRecord("KRAKEN", "ETH", "USD")
	stale.LatestDate = &older

	never := store.NewDefaultRecord("KRAKEN", "XRP", "USD")

	if err := st.InsertPairExchangeData(ctx, []*store.PairExchangeRecord{never, stale, recent}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	refresher := &fakeRefresher{}
	logger := obs.NewLogger("test", "")
	sched := New(st, refresher, logger)
	sched.sleep = func(time.Duration) {}

	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	want := []string{
		recent.ID + ":daily", recent.ID + ":hourly",
		stale.ID + ":daily", stale.ID + ":hourly",
		never.ID + ":daily", never.ID + ":hourly",
	}
	if len(refresher.order) != len(want) {
		t.Fatalf("expected %d calls, got %d: %v", len(want), len(refresher.order), refresher.order)
	}
	for i, w := range want {
		if refresher.order[i] != w {
			t.Fatalf("call %d: expected %s, got %s", i, w, refresher.order[i])
		}
	}
}
