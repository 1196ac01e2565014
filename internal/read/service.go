// Package read implements the pure-read query facade the HTTP layer
// dispatches to: getHisto, getExchanges, getDailyMarketCapCoins.
package read

import (
	"context"
	"strings"
	"sync"

	"countervalue/internal/ids"
	"countervalue/internal/marketcap"
	"countervalue/internal/obs"
	"countervalue/internal/store"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentPairRefreshes caps the fan-out GetHisto runs across requested
// pairs, mirroring the teacher's GetBatchAggregatedPrices concurrency cap.
const maxConcurrentPairRefreshes = 8

// Engine is the subset of engine.Engine the Read Service depends on.
type Engine interface {
	RefreshAvailablePairExchanges(ctx context.Context) error
	RefreshExchanges(ctx context.Context) error
	RefreshHisto(ctx context.Context, id string, g ids.Granularity) (store.Histo, error)
}

// RequestPair is a single requested (from,to) with optional exchange
// pinning and key-filtering, per §6's POST /rates/:granularity body.
type RequestPair struct {
	From     string
	To       string
	Exchange string // empty if unpinned
	After    string // exclusive lower bound on bucket key; empty means none
	At       []string
	AtSet    bool // true iff At was explicitly provided (even if empty)
}

// PairData is the per-(to,from,exchange) response shape: bucket key to
// rate, plus the live "latest" rate.
type PairData struct {
	Buckets map[string]decimal.Decimal
	Latest  decimal.Decimal
}

// ExchangeInfo is the public shape returned by GetExchanges.
type ExchangeInfo struct {
	ID      string
	Name    string
	Website string
}

// Service implements the specification's §4.K Read Service.
type Service struct {
	engine    Engine
	store     store.Store
	ranker    *marketcap.Ranker
	logger    *obs.Logger
	blacklist map[string]bool
}

// New builds a Service. blacklist entries are matched case-insensitively
// against each record's Exchange field.
func New(engine Engine, st store.Store, ranker *marketcap.Ranker, logger *obs.Logger, blacklist []string) *Service {
	bl := make(map[string]bool, len(blacklist))
	for _, b := range blacklist {
		bl[strings.ToLower(b)] = true
	}
	return &Service{engine: engine, store: st, ranker: ranker, logger: logger, blacklist: bl}
}

func (s *Service) isBlacklisted(exchange string) bool {
	return s.blacklist[strings.ToLower(exchange)]
}

// GetHisto implements §4.K's getHisto: response[to][from][exchange] = PairData.
func (s *Service) GetHisto(ctx context.Context, pairs []RequestPair, granularity ids.Granularity) map[string]map[string]map[string]PairData {
	if err := s.engine.RefreshAvailablePairExchanges(ctx); err != nil {
		s.logger.WithError(err).Warn("available-pair-exchanges refresh failed, serving persisted view")
	}

	response := make(map[string]map[string]map[string]PairData)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPairRefreshes)

	for _, rp := range pairs {
		rp := rp
		g.Go(func() error {
			record := s.selectCandidate(gctx, rp)
			if record == nil {
				return nil
			}

			histo, err := s.engine.RefreshHisto(gctx, record.ID, granularity)
			if err != nil {
				s.logger.WithPairExchange(record.ID).WithError(err).Warn("histo refresh failed, serving persisted view")
				histo = record.Histo(granularity)
			}

			buckets := filterKeys(histo, rp)

			mu.Lock()
			defer mu.Unlock()
			if response[rp.To] == nil {
				response[rp.To] = make(map[string]map[string]PairData)
			}
			if response[rp.To][rp.From] == nil {
				response[rp.To][rp.From] = make(map[string]PairData)
			}
			response[rp.To][rp.From][record.Exchange] = PairData{
				Buckets: buckets,
				Latest:  record.Latest,
			}
			return nil
		})
	}

	// Every goroutine above returns nil unconditionally (refresh failures are
	// logged and degrade to cached data, not propagated as errors), so this
	// Wait only blocks until the fan-out completes.
	_ = g.Wait()

	return response
}

func (s *Service) selectCandidate(ctx context.Context, rp RequestPair) *store.PairExchangeRecord {
	candidates, err := s.store.QueryPairExchangesByPair(ctx, []store.PairQuery{{From: rp.From, To: rp.To}})
	if err != nil {
		s.logger.WithError(err).Warn("query pair-exchanges failed")
		return nil
	}

	filtered := make([]*store.PairExchangeRecord, 0, len(candidates))
	for _, c := range candidates {
		if !s.isBlacklisted(c.Exchange) {
			filtered = append(filtered, c)
		}
	}

	if rp.Exchange != "" {
		for _, c := range filtered {
			if strings.EqualFold(c.Exchange, rp.Exchange) {
				return c
			}
		}
		return nil
	}

	for _, c := range filtered {
		if c.HasHistoryFor30LastDays {
			return c
		}
	}
	return nil
}

func filterKeys(histo store.Histo, rp RequestPair) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)

	switch {
	case rp.AtSet:
		want := make(map[string]bool, len(rp.At))
		for _, k := range rp.At {
			want[k] = true
		}
		for k, v := range histo {
			if want[k] {
				out[k] = v
			}
		}
	case rp.After != "":
		for k, v := range histo {
			if k == ids.LatestKey {
				continue
			}
			if k > rp.After {
				out[k] = v
			}
		}
		if latest, ok := histo[ids.LatestKey]; ok {
			out[ids.LatestKey] = latest
		}
	default:
		for k, v := range histo {
			out[k] = v
		}
	}

	return out
}

// GetExchanges implements §4.K's getExchanges: exchanges offering the
// given pair, blacklist-filtered, richer metadata where known.
func (s *Service) GetExchanges(ctx context.Context, from, to string) []ExchangeInfo {
	if err := s.engine.RefreshExchanges(ctx); err != nil {
		s.logger.WithError(err).Warn("exchanges refresh failed, serving persisted view")
	}

	candidates, err := s.store.QueryPairExchangesByPair(ctx, []store.PairQuery{{From: from, To: to}})
	if err != nil {
		s.logger.WithError(err).Warn("query pair-exchanges failed")
		return nil
	}

	known, err := s.store.QueryExchanges(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("query exchanges failed")
		known = nil
	}
	byID := make(map[string]*store.ExchangeRecord, len(known))
	for _, k := range known {
		byID[k.ID] = k
	}

	var out []ExchangeInfo
	for _, c := range candidates {
		if !c.HasHistoryFor30LastDays || s.isBlacklisted(c.Exchange) {
			continue
		}
		if meta, ok := byID[c.Exchange]; ok {
			out = append(out, ExchangeInfo{ID: meta.ID, Name: meta.Name, Website: meta.Website})
		} else {
			out = append(out, ExchangeInfo{ID: c.Exchange, Name: c.Exchange})
		}
	}
	return out
}

// GetDailyMarketCapCoins implements §4.K's getDailyMarketCapCoins: a
// passthrough to the market-cap ranker.
func (s *Service) GetDailyMarketCapCoins(ctx context.Context) ([]string, error) {
	return s.ranker.DailyCoins(ctx)
}
