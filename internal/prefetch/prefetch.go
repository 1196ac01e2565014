// Package prefetch implements the background warming scheduler: a paced
// walk over every known pair-exchange, refreshing its daily then hourly
// histo, spread evenly across the histo throttle window.
package prefetch

import (
	"context"
	"sort"
	"time"

	"countervalue/internal/ids"
	"countervalue/internal/obs"
	"countervalue/internal/store"
)

// Refresher is the subset of engine.Engine the scheduler depends on.
type Refresher interface {
	RefreshHisto(ctx context.Context, id string, g ids.Granularity) (store.Histo, error)
}

// HistoThrottleWindow mirrors engine.histoWindow; pacing is computed as
// HistoThrottleWindow / N so a full cycle over all pairs takes roughly one
// throttle window, per §4.I.
const HistoThrottleWindow = 15 * time.Minute

// Period is the scheduler's own recurrence: the whole paced walk runs
// once every 4 hours.
const Period = 4 * time.Hour

// Scheduler walks every known pair-exchange, sorted by latestDate
// descending (nulls last), refreshing daily then hourly histo for each.
type Scheduler struct {
	store     store.Store
	refresher Refresher
	logger    *obs.Logger
	sleep     func(time.Duration)
}

// New builds a Scheduler.
func New(st store.Store, refresher Refresher, logger *obs.Logger) *Scheduler {
	return &Scheduler{store: st, refresher: refresher, logger: logger, sleep: time.Sleep}
}

// RunOnce performs a single paced walk over every known pair-exchange id.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	allIDs, err := s.store.QueryPairExchangeIDs(ctx)
	if err != nil {
		return err
	}

	type entry struct {
		id         string
		latestDate *time.Time
	}
	entries := make([]entry, 0, len(allIDs))
	for _, id := range allIDs {
		rec, err := s.store.QueryPairExchangeByID(ctx, id, nil)
		if err != nil || rec == nil {
			continue
		}
		entries = append(entries, entry{id: id, latestDate: rec.LatestDate})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].latestDate, entries[j].latestDate
		if a == nil && b == nil {
			return false
		}
		if a == nil {
			return false // nulls last
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})

	n := len(entries)
	if n == 0 {
		return nil
	}
	pace := HistoThrottleWindow / time.Duration(n)

	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if _, err := s.refresher.RefreshHisto(ctx, e.id, ids.Daily); err != nil {
			s.logger.WithPairExchange(e.id).WithError(err).Warn("prefetch daily refresh failed")
		}
		if _, err := s.refresher.RefreshHisto(ctx, e.id, ids.Hourly); err != nil {
			s.logger.WithPairExchange(e.id).WithError(err).Warn("prefetch hourly refresh failed")
		}

		s.sleep(pace)
	}

	return nil
}

// Run runs RunOnce every Period until ctx is cancelled, unless disabled is
// true (mirrors DISABLE_PREFETCH).
func (s *Scheduler) Run(ctx context.Context, disabled bool) {
	if disabled {
		s.logger.Info("prefetch scheduler disabled")
		return
	}

	ticker := time.NewTicker(Period)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Warn("prefetch cycle failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Warn("prefetch cycle failed")
			}
		}
	}
}
