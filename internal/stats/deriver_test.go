package stats

import (
	"testing"
	"time"

	"countervalue/internal/ids"
	"countervalue/internal/store"

	"github.com/shopspring/decimal"
)

func TestDeriveEmptyHistoIsNoOp(t *testing.T) {
	_, ok := Derive(store.Histo{}, time.Now(), 20)
	if ok {
		t.Fatal("expected no-op for empty histo")
	}

	_, ok = Derive(store.Histo{ids.LatestKey: decimal.NewFromInt(1)}, time.Now(), 20)
	if ok {
		t.Fatal("expected no-op when only the latest key is present")
	}
}

func TestDeriveHasHistoryFor1Year(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	oldDay := now.AddDate(-1, 0, -1) // > 365 days ago

	h := store.Histo{
		ids.Daily.FormatKey(oldDay): decimal.NewFromInt(100),
	}

	res, ok := Derive(h, now, 20)
	if !ok {
		t.Fatal("expected derivation to run")
	}
	if !*res.Stats.HasHistoryFor1Year {
		t.Fatalf("expected hasHistoryFor1Year=true, oldestDayAgo=%d", *res.Stats.OldestDayAgo)
	}
}

func TestDeriveHasHistoryFor30LastDaysRequiresMinDaysAndValidRatio(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	anchor := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	h := store.Histo{}
	for i := 1; i <= 25; i++ {
		h[ids.Daily.FormatKey(anchor.AddDate(0, 0, -i))] = decimal.NewFromInt(100)
	}

	res, ok := Derive(h, now, 20)
	if !ok {
		t.Fatal("expected derivation to run")
	}
	if !*res.Stats.HasHistoryFor30LastDays {
		t.Fatal("expected hasHistoryFor30LastDays=true with 25 uniform-rate days and minDays=20")
	}
	if res.ExtremeRatio {
		t.Fatal("uniform rates must not trip the extreme-ratio detector")
	}
}

func TestDeriveExtremeRatioDetected(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	anchor := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	h := store.Histo{
		ids.Daily.FormatKey(anchor.AddDate(0, 0, -1)): decimal.NewFromInt(1),
		ids.Daily.FormatKey(anchor.AddDate(0, 0, -2)): decimal.NewFromInt(10000),
	}

	// minDays=2 so the two-day count alone would qualify; only the ratio
	// can clear hasHistoryFor30LastDays below.
	res, ok := Derive(h, now, 2)
	if !ok {
		t.Fatal("expected derivation to run")
	}
	if !res.ExtremeRatio {
		t.Fatal("expected extreme ratio to be detected for a 10000x day-over-day swing")
	}
	if *res.Stats.HasHistoryFor30LastDays {
		t.Fatal("an extreme ratio must disqualify hasHistoryFor30LastDays")
	}
}

func TestYesterdayVolumeWithinWindow(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	points := []PointWithVolume{
		{Time: now.Add(-1 * time.Hour), Volume: decimal.NewFromInt(3)},
		{Time: now.Add(-25 * time.Hour), Volume: decimal.NewFromInt(5)},
		{Time: now.Add(-49 * time.Hour), Volume: decimal.NewFromInt(7)},
	}
	if got := YesterdayVolume(points, now); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected yesterdayVolume=5, got %v", got)
	}
}

func TestYesterdayVolumeOutsideWindowIsZero(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	points := []PointWithVolume{
		{Time: now.Add(-1 * time.Hour), Volume: decimal.NewFromInt(3)},
		{Time: now.Add(-72 * time.Hour), Volume: decimal.NewFromInt(5)},
	}
	if got := YesterdayVolume(points, now); !got.IsZero() {
		t.Fatalf("expected yesterdayVolume=0, got %v", got)
	}
}
