package memstore

import (
	"context"
	"testing"

	"countervalue/internal/ids"
	"countervalue/internal/store"

	"github.com/shopspring/decimal"
)

func TestInsertIsIdempotentAndNonDestructive(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec := store.NewDefaultRecord("KRAKEN", "BTC", "USD")
	if err := s.InsertPairExchangeData(ctx, []*store.PairExchangeRecord{rec}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.UpdatePairExchangeStats(ctx, rec.ID, store.PartialStats{
		OldestDayAgo: intPtr(42),
	}); err != nil {
		t.Fatalf("update stats: %v", err)
	}

	// Re-inserting must not clobber the stats update.
	again := store.NewDefaultRecord("KRAKEN", "BTC", "USD")
	if err := s.InsertPairExchangeData(ctx, []*store.PairExchangeRecord{again}); err != nil {
		t.Fatalf("re-insert: %v", err)
	}

	got, err := s.QueryPairExchangeByID(ctx, rec.ID, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got.OldestDayAgo != 42 {
		t.Fatalf("expected re-insert to preserve stats, got OldestDayAgo=%d", got.OldestDayAgo)
	}
}

func TestQueryPairExchangesByPairSortOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	low := store.NewDefaultRecord("KRAKEN", "BTC", "USD")
	low.YesterdayVolume = decimal.NewFromInt(10)
	low.HasHistoryFor1Year = false

	high := store.NewDefaultRecord("BITSTAMP", "BTC", "USD")
	high.YesterdayVolume = decimal.NewFromInt(5)
	high.HasHistoryFor1Year = true

	if err := s.InsertPairExchangeData(ctx, []*store.PairExchangeRecord{low, high}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.QueryPairExchangesByPair(ctx, []store.PairQuery{{From: "BTC", To: "USD"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != high.ID {
		t.Fatalf("expected hasHistoryFor1Year record first, got %s", got[0].ID)
	}
}

func TestUpdateHistoUnknownID(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.UpdateHisto(ctx, "NOPE_BTC_USD", ids.Daily, store.Histo{"2026-07-29": decimal.NewFromInt(1)})
	if err == nil {
		t.Fatal("expected error updating histo for unknown id")
	}
}

func TestStatusDBEmpty(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.StatusDB(ctx); err == nil {
		t.Fatal("expected StatusDB to fail on empty store")
	}

	rec := store.NewDefaultRecord("KRAKEN", "BTC", "USD")
	if err := s.InsertPairExchangeData(ctx, []*store.PairExchangeRecord{rec}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.StatusDB(ctx); err != nil {
		t.Fatalf("expected StatusDB to pass after insert: %v", err)
	}
}

func TestGetMetaDefaults(t *testing.T) {
	ctx := context.Background()
	s := New()

	meta, err := s.GetMeta(ctx)
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if !meta.LastLiveRatesSync.IsZero() || !meta.LastMarketCapSync.IsZero() {
		t.Fatal("expected zero-instant defaults before any sync")
	}
}

func intPtr(v int) *int { return &v }
