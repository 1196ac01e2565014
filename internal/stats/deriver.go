// Package stats computes per-pair-exchange quality/freshness statistics
// from a daily Histo. Derive is a pure function: no I/O, no store access,
// no clock reads beyond the `now` it is given.
package stats

import (
	"time"

	"countervalue/internal/ids"
	"countervalue/internal/store"

	"github.com/shopspring/decimal"
)

// MaxRatio is the extreme-ratio threshold for the max/min rate ratio over
// the 30-day window.
const MaxRatio = 1000

// ClampMinDays applies MIN_DAYS = min(override, 30), defaulting to 20 when
// no override is configured.
func ClampMinDays(override int, hasOverride bool) int {
	if !hasOverride {
		return 20
	}
	if override > 30 {
		return 30
	}
	return override
}

// Result is what Derive computed, plus whether an extreme ratio was
// detected (the caller, not this package, is responsible for logging it —
// Derive performs no I/O).
type Result struct {
	Stats        store.PartialStats
	ExtremeRatio bool
}

// Derive computes oldestDayAgo, hasHistoryFor30LastDays, and
// hasHistoryFor1Year from histoDaily, per the specification's §4.G
// algorithm. ok is false when histoDaily carries no non-"latest" keys, in
// which case the record must be left untouched.
func Derive(histoDaily store.Histo, now time.Time, minDays int) (Result, bool) {
	type dayPoint struct {
		at   time.Time
		rate decimal.Decimal
	}

	var days []dayPoint
	for key, rate := range histoDaily {
		if key == ids.LatestKey {
			continue
		}
		at, err := ids.Daily.ParseKey(key)
		if err != nil {
			continue
		}
		days = append(days, dayPoint{at: at, rate: rate})
	}

	if len(days) == 0 {
		return Result{}, false
	}

	oldest := days[0].at
	for _, d := range days[1:] {
		if d.at.Before(oldest) {
			oldest = d.at
		}
	}
	oldestDayAgo := int(now.Sub(oldest) / (24 * time.Hour))

	byKey := make(map[string]decimal.Decimal, len(days))
	for _, d := range days {
		byKey[ids.Daily.FormatKey(d.at)] = d.rate
	}

	anchor := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)

	historyCount := 0
	var min, max decimal.Decimal
	haveBound := false

	if latest, ok := histoDaily[ids.LatestKey]; ok {
		historyCount++
		min, max = latest, latest
		haveBound = true
	}

	for i := 1; i <= 30; i++ {
		key := ids.Daily.FormatKey(anchor.AddDate(0, 0, -i))
		rate, ok := byKey[key]
		if !ok || !rate.IsPositive() {
			continue
		}
		historyCount++
		if !haveBound {
			min, max = rate, rate
			haveBound = true
			continue
		}
		if rate.LessThan(min) {
			min = rate
		}
		if rate.GreaterThan(max) {
			max = rate
		}
	}

	invalidRatio := true
	ratio := decimal.Zero
	if haveBound && min.IsPositive() {
		ratio = max.Div(min)
		invalidRatio = false
	}

	extremeRatio := !invalidRatio && ratio.GreaterThanOrEqual(decimal.NewFromInt(MaxRatio))

	hasHistoryFor30LastDays := historyCount >= minDays && !invalidRatio && ratio.LessThan(decimal.NewFromInt(MaxRatio))
	hasHistoryFor1Year := oldestDayAgo > 365

	return Result{
		Stats: store.PartialStats{
			HasHistoryFor30LastDays: &hasHistoryFor30LastDays,
			HasHistoryFor1Year:      &hasHistoryFor1Year,
			OldestDayAgo:            &oldestDayAgo,
		},
		ExtremeRatio: extremeRatio,
	}, true
}

// YesterdayVolume is the side computation §4.G describes inside histo
// refresh: given points sorted descending by time, the second-most-recent
// point's volume if it falls within (now-2d, now], else zero.
func YesterdayVolume(sortedDescByTime []PointWithVolume, now time.Time) decimal.Decimal {
	if len(sortedDescByTime) < 2 {
		return decimal.Zero
	}
	second := sortedDescByTime[1]
	if second.Time.After(now.Add(-2*24*time.Hour)) && !second.Time.After(now) {
		return second.Volume
	}
	return decimal.Zero
}

// PointWithVolume is the minimal shape YesterdayVolume needs from an
// OHLCVR point.
type PointWithVolume struct {
	Time   time.Time
	Volume decimal.Decimal
}
