// Package store defines the persisted entities and the abstract operations
// the engine depends on. It names a contract, not a schema: concrete
// backends live under store/mongostore and store/memstore.
package store

import (
	"context"
	"time"

	"countervalue/internal/ids"

	"github.com/shopspring/decimal"
)

// Histo maps a bucket-key (or the reserved ids.LatestKey) to a centSat Rate.
type Histo map[string]decimal.Decimal

// Clone returns a shallow copy, since callers that received a Histo from a
// query must not mutate the store's internal map.
func (h Histo) Clone() Histo {
	out := make(Histo, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// PairExchangeRecord is the persisted entity, one per PairExchange id.
type PairExchangeRecord struct {
	ID       string
	Exchange string
	From     string
	To       string
	FromTo   string // "<FROM>_<TO>", the pair index key

	HistoDaily  Histo
	HistoHourly Histo

	Latest     decimal.Decimal
	LatestDate *time.Time

	YesterdayVolume decimal.Decimal
	OldestDayAgo    int

	HasHistoryFor1Year      bool
	HasHistoryFor30LastDays bool

	HistoryLoadedAtDaily  string // bucket key, empty if never
	HistoryLoadedAtHourly string
}

// NewDefaultRecord builds the fresh record the "available pair-exchanges"
// refresh inserts on first sight: latest=0, latestDate=nil,
// hasHistoryFor30LastDays optimistically true, hasHistoryFor1Year false.
func NewDefaultRecord(exchange, from, to string) *PairExchangeRecord {
	return &PairExchangeRecord{
		ID:                      ids.Build(exchange, from, to),
		Exchange:                exchange,
		From:                    from,
		To:                      to,
		FromTo:                  from + "_" + to,
		HistoDaily:              Histo{},
		HistoHourly:             Histo{},
		Latest:                  decimal.Zero,
		LatestDate:              nil,
		HasHistoryFor30LastDays: true,
		HasHistoryFor1Year:      false,
	}
}

// HistoryLoadedAt returns the stored watermark for g.
func (r *PairExchangeRecord) HistoryLoadedAt(g ids.Granularity) string {
	if g == ids.Hourly {
		return r.HistoryLoadedAtHourly
	}
	return r.HistoryLoadedAtDaily
}

// Histo returns the stored Histo for g.
func (r *PairExchangeRecord) Histo(g ids.Granularity) Histo {
	if g == ids.Hourly {
		return r.HistoHourly
	}
	return r.HistoDaily
}

// ExchangeRecord is the persisted exchange metadata entity.
type ExchangeRecord struct {
	ID      string
	Name    string
	Website string // empty if unknown
}

// MarketCapSnapshot is the persisted daily crypto-ticker ranking.
type MarketCapSnapshot struct {
	Day   string // YYYY-MM-DD
	Coins []string
}

// Meta is the singleton sync-status record.
type Meta struct {
	LastLiveRatesSync time.Time
	LastMarketCapSync time.Time
}

// PartialStats carries only the fields a writer computed; updatePairExchangeStats
// semantics require callers to merge, not replace, the record's stats.
type PartialStats struct {
	HasHistoryFor30LastDays *bool
	HasHistoryFor1Year      *bool
	OldestDayAgo            *int
	YesterdayVolume         *decimal.Decimal
	HistoryLoadedAtDaily    *string
	HistoryLoadedAtHourly   *string
	LatestDate              *time.Time
}

// LiveRateUpdate is a single coalesced live-rate write.
type LiveRateUpdate struct {
	PairExchangeID string
	Rate           decimal.Decimal
}

// PairQuery narrows queryPairExchangesByPair to one or more (from,to) pairs.
type PairQuery struct {
	From string
	To   string
}

// Projection restricts which fields queryPairExchangeById returns; nil means
// "all fields". Concrete stores may ignore it and return the full record if
// a partial read offers no benefit.
type Projection struct {
	Fields []string
}

// Store is the abstract set of persistent operations the engine depends on.
type Store interface {
	// InsertPairExchangeData inserts each record whose id is absent;
	// existing records, including their derived data, are never
	// overwritten.
	InsertPairExchangeData(ctx context.Context, records []*PairExchangeRecord) error

	// UpdateLiveRates atomically sets latest/latestDate=now for each
	// update, and refreshes meta.lastLiveRatesSync.
	UpdateLiveRates(ctx context.Context, updates []LiveRateUpdate) error

	// UpdateHisto wholesale-replaces the named granularity's histo for id.
	UpdateHisto(ctx context.Context, id string, g ids.Granularity, h Histo) error

	// UpdatePairExchangeStats partially merges only the non-nil fields of
	// stats into the record named by id.
	UpdatePairExchangeStats(ctx context.Context, id string, stats PartialStats) error

	// UpdateExchanges upserts each exchange by id.
	UpdateExchanges(ctx context.Context, exchanges []*ExchangeRecord) error

	// UpdateMarketCapCoins upserts the day's snapshot and refreshes
	// meta.lastMarketCapSync.
	UpdateMarketCapCoins(ctx context.Context, day string, coins []string) error

	// QueryPairExchangesByPair returns records matching any of the given
	// pairs, sorted by (hasHistoryFor1Year DESC, yesterdayVolume DESC).
	QueryPairExchangesByPair(ctx context.Context, pairs []PairQuery) ([]*PairExchangeRecord, error)

	// QueryPairExchangeByID returns a single record, or nil if absent.
	QueryPairExchangeByID(ctx context.Context, id string, proj *Projection) (*PairExchangeRecord, error)

	// QueryPairExchangeIDs returns every known pair-exchange id.
	QueryPairExchangeIDs(ctx context.Context) ([]string, error)

	// QueryExchanges returns every known exchange.
	QueryExchanges(ctx context.Context) ([]*ExchangeRecord, error)

	// QueryMarketCapCoinsForDay returns the snapshot for day, or nil if
	// absent.
	QueryMarketCapCoinsForDay(ctx context.Context, day string) (*MarketCapSnapshot, error)

	// StatusDB fails if the pair-exchange collection is empty.
	StatusDB(ctx context.Context) error

	// GetMeta returns the singleton meta record, with zero-instant
	// defaults if it has never been written.
	GetMeta(ctx context.Context) (Meta, error)
}
