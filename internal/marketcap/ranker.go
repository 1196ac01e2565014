// Package marketcap is a thin wrapper exposing the engine's throttled
// market-cap refresh as a read-oriented operation for the HTTP layer.
package marketcap

import (
	"context"

	"countervalue/internal/store"
)

// Refresher is the subset of engine.Engine the ranker depends on.
type Refresher interface {
	RefreshMarketCap(ctx context.Context) (*store.MarketCapSnapshot, error)
}

// Ranker serves the daily crypto market-cap ranking.
type Ranker struct {
	refresher Refresher
}

// New builds a Ranker.
func New(refresher Refresher) *Ranker {
	return &Ranker{refresher: refresher}
}

// DailyCoins returns today's market-cap-ranked ticker list, refreshing it
// if no snapshot has been stored yet today.
func (r *Ranker) DailyCoins(ctx context.Context) ([]string, error) {
	snap, err := r.refresher.RefreshMarketCap(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	return snap.Coins, nil
}
