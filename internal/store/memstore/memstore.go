// Package memstore is an in-memory store.Store guarded by a single
// sync.RWMutex, grounded on the teacher's global priceCache map + mutex
// pattern in cmd/server/main.go. It backs unit tests; cmd/server and
// cmd/sync always use mongostore.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"countervalue/internal/ids"
	"countervalue/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu         sync.RWMutex
	records    map[string]*store.PairExchangeRecord
	exchanges  map[string]*store.ExchangeRecord
	marketCaps map[string]*store.MarketCapSnapshot
	meta       store.Meta
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records:    make(map[string]*store.PairExchangeRecord),
		exchanges:  make(map[string]*store.ExchangeRecord),
		marketCaps: make(map[string]*store.MarketCapSnapshot),
	}
}

func cloneRecord(r *store.PairExchangeRecord) *store.PairExchangeRecord {
	cp := *r
	cp.HistoDaily = r.HistoDaily.Clone()
	cp.HistoHourly = r.HistoHourly.Clone()
	if r.LatestDate != nil {
		t := *r.LatestDate
		cp.LatestDate = &t
	}
	return &cp
}

func (s *Store) InsertPairExchangeData(_ context.Context, records []*store.PairExchangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if _, exists := s.records[r.ID]; exists {
			continue // insert-if-absent: never overwrite existing derived data
		}
		s.records[r.ID] = cloneRecord(r)
	}
	return nil
}

func (s *Store) UpdateLiveRates(_ context.Context, updates []store.LiveRateUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, u := range updates {
		r, ok := s.records[u.PairExchangeID]
		if !ok {
			continue
		}
		r.Latest = u.Rate
		t := now
		r.LatestDate = &t
	}
	s.meta.LastLiveRatesSync = now
	return nil
}

func (s *Store) UpdateHisto(_ context.Context, id string, g ids.Granularity, h store.Histo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return errors.New("memstore: unknown pair-exchange id " + id)
	}
	if g == ids.Hourly {
		r.HistoHourly = h.Clone()
	} else {
		r.HistoDaily = h.Clone()
	}
	return nil
}

func (s *Store) UpdatePairExchangeStats(_ context.Context, id string, stats store.PartialStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return errors.New("memstore: unknown pair-exchange id " + id)
	}
	if stats.HasHistoryFor30LastDays != nil {
		r.HasHistoryFor30LastDays = *stats.HasHistoryFor30LastDays
	}
	if stats.HasHistoryFor1Year != nil {
		r.HasHistoryFor1Year = *stats.HasHistoryFor1Year
	}
	if stats.OldestDayAgo != nil {
		r.OldestDayAgo = *stats.OldestDayAgo
	}
	if stats.YesterdayVolume != nil {
		r.YesterdayVolume = *stats.YesterdayVolume
	}
	if stats.HistoryLoadedAtDaily != nil {
		r.HistoryLoadedAtDaily = *stats.HistoryLoadedAtDaily
	}
	if stats.HistoryLoadedAtHourly != nil {
		r.HistoryLoadedAtHourly = *stats.HistoryLoadedAtHourly
	}
	if stats.LatestDate != nil {
		t := *stats.LatestDate
		r.LatestDate = &t
	}
	return nil
}

func (s *Store) UpdateExchanges(_ context.Context, exchanges []*store.ExchangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range exchanges {
		cp := *e
		s.exchanges[e.ID] = &cp
	}
	return nil
}

func (s *Store) UpdateMarketCapCoins(_ context.Context, day string, coins []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]string, len(coins))
	copy(cp, coins)
	s.marketCaps[day] = &store.MarketCapSnapshot{Day: day, Coins: cp}
	s.meta.LastMarketCapSync = time.Now()
	return nil
}

func (s *Store) QueryPairExchangesByPair(_ context.Context, pairs []store.PairQuery) ([]*store.PairExchangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		want[p.From+"_"+p.To] = true
	}

	var out []*store.PairExchangeRecord
	for _, r := range s.records {
		if want[r.FromTo] {
			out = append(out, cloneRecord(r))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].HasHistoryFor1Year != out[j].HasHistoryFor1Year {
			return out[i].HasHistoryFor1Year
		}
		return out[i].YesterdayVolume.GreaterThan(out[j].YesterdayVolume)
	})

	return out, nil
}

func (s *Store) QueryPairExchangeByID(_ context.Context, id string, _ *store.Projection) (*store.PairExchangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return cloneRecord(r), nil
}

func (s *Store) QueryPairExchangeIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) QueryExchanges(_ context.Context) ([]*store.ExchangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.ExchangeRecord, 0, len(s.exchanges))
	for _, e := range s.exchanges {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) QueryMarketCapCoinsForDay(_ context.Context, day string) (*store.MarketCapSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.marketCaps[day]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (s *Store) StatusDB(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return errors.New("memstore: pair-exchange collection is empty")
	}
	return nil
}

func (s *Store) GetMeta(_ context.Context) (store.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.meta, nil
}

var _ store.Store = (*Store)(nil)
