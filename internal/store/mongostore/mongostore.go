// Package mongostore implements store.Store against MongoDB, the backend
// selected by DATABASE=mongodb. Rate fields are persisted as strings
// (decimal.Decimal's String()/NewFromString round-trip) rather than BSON
// doubles, since a double would reintroduce the binary-float rounding the
// rest of the system uses decimal.Decimal specifically to avoid; sorting by
// a decimal-shaped rate therefore happens client-side after the query
// returns, the same way memstore does it.
package mongostore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"countervalue/internal/ids"
	"countervalue/internal/store"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const metaDocID = "singleton"

// Store is a MongoDB-backed store.Store.
type Store struct {
	client         *mongo.Client
	pairExchanges  *mongo.Collection
	exchanges      *mongo.Collection
	marketCapCoins *mongo.Collection
	meta           *mongo.Collection
}

// Connect dials uri, pings the server, and ensures the collections' indexes
// exist. dbName is the database name within the URI's connection (e.g.
// "ledger-countervalue").
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client:         client,
		pairExchanges:  db.Collection("pairExchanges"),
		exchanges:      db.Collection("exchanges"),
		marketCapCoins: db.Collection("marketcap_coins"),
		meta:           db.Collection("meta"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.pairExchanges.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "from_to", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongostore: pairExchanges indexes: %w", err)
	}

	_, err = s.marketCapCoins.Indexes().CreateOne(ctx,
		mongo.IndexModel{Keys: bson.D{{Key: "day", Value: 1}}, Options: options.Index().SetUnique(true)})
	if err != nil {
		return fmt.Errorf("mongostore: marketCapCoins indexes: %w", err)
	}

	return nil
}

// Close disconnects the underlying Mongo client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type pairExchangeDoc struct {
	ID       string `bson:"id"`
	Exchange string `bson:"exchange"`
	From     string `bson:"from"`
	To       string `bson:"to"`
	FromTo   string `bson:"from_to"`

	HistoDaily  map[string]string `bson:"histo_daily"`
	HistoHourly map[string]string `bson:"histo_hourly"`

	Latest     string     `bson:"latest"`
	LatestDate *time.Time `bson:"latest_date"`

	YesterdayVolume string `bson:"yesterday_volume"`
	OldestDayAgo    int    `bson:"oldest_day_ago"`

	HasHistoryFor1Year      bool `bson:"has_history_for_1_year"`
	HasHistoryFor30LastDays bool `bson:"has_history_for_30_last_days"`

	HistoryLoadedAtDaily  string `bson:"history_loaded_at_daily"`
	HistoryLoadedAtHourly string `bson:"history_loaded_at_hourly"`
}

func toDoc(r *store.PairExchangeRecord) pairExchangeDoc {
	return pairExchangeDoc{
		ID:                      r.ID,
		Exchange:                r.Exchange,
		From:                    r.From,
		To:                      r.To,
		FromTo:                  r.FromTo,
		HistoDaily:              histoToStrings(r.HistoDaily),
		HistoHourly:             histoToStrings(r.HistoHourly),
		Latest:                  r.Latest.String(),
		LatestDate:              r.LatestDate,
		YesterdayVolume:         r.YesterdayVolume.String(),
		OldestDayAgo:            r.OldestDayAgo,
		HasHistoryFor1Year:      r.HasHistoryFor1Year,
		HasHistoryFor30LastDays: r.HasHistoryFor30LastDays,
		HistoryLoadedAtDaily:    r.HistoryLoadedAtDaily,
		HistoryLoadedAtHourly:   r.HistoryLoadedAtHourly,
	}
}

func fromDoc(d pairExchangeDoc) *store.PairExchangeRecord {
	return &store.PairExchangeRecord{
		ID:                      d.ID,
		Exchange:                d.Exchange,
		From:                    d.From,
		To:                      d.To,
		FromTo:                  d.FromTo,
		HistoDaily:              histoFromStrings(d.HistoDaily),
		HistoHourly:             histoFromStrings(d.HistoHourly),
		Latest:                  parseDecimalOrZero(d.Latest),
		LatestDate:              d.LatestDate,
		YesterdayVolume:         parseDecimalOrZero(d.YesterdayVolume),
		OldestDayAgo:            d.OldestDayAgo,
		HasHistoryFor1Year:      d.HasHistoryFor1Year,
		HasHistoryFor30LastDays: d.HasHistoryFor30LastDays,
		HistoryLoadedAtDaily:    d.HistoryLoadedAtDaily,
		HistoryLoadedAtHourly:   d.HistoryLoadedAtHourly,
	}
}

func histoToStrings(h store.Histo) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.String()
	}
	return out
}

func histoFromStrings(m map[string]string) store.Histo {
	out := make(store.Histo, len(m))
	for k, v := range m {
		out[k] = parseDecimalOrZero(v)
	}
	return out
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// InsertPairExchangeData inserts each record whose id is absent.
func (s *Store) InsertPairExchangeData(ctx context.Context, records []*store.PairExchangeRecord) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}

	cursor, err := s.pairExchanges.Find(ctx, bson.M{"id": bson.M{"$in": ids}}, options.Find().SetProjection(bson.M{"id": 1}))
	if err != nil {
		return fmt.Errorf("mongostore: query existing ids: %w", err)
	}
	defer cursor.Close(ctx)

	existing := make(map[string]bool)
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("mongostore: decode existing id: %w", err)
		}
		existing[doc.ID] = true
	}

	var toInsert []interface{}
	for _, r := range records {
		if !existing[r.ID] {
			toInsert = append(toInsert, toDoc(r))
		}
	}
	if len(toInsert) == 0 {
		return nil
	}

	_, err = s.pairExchanges.InsertMany(ctx, toInsert, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("mongostore: insert pair-exchanges: %w", err)
	}
	return nil
}

// UpdateLiveRates atomically sets latest/latestDate=now for each update.
func (s *Store) UpdateLiveRates(ctx context.Context, updates []store.LiveRateUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	now := time.Now()
	var writes []mongo.WriteModel
	for _, u := range updates {
		filter := bson.M{"id": u.PairExchangeID}
		update := bson.M{"$set": bson.M{"latest": u.Rate.String(), "latest_date": now}}
		writes = append(writes, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update))
	}

	if _, err := s.pairExchanges.BulkWrite(ctx, writes); err != nil {
		return fmt.Errorf("mongostore: bulk update live rates: %w", err)
	}

	return s.touchMeta(ctx, bson.M{"last_live_rates_sync": now})
}

// UpdateHisto wholesale-replaces the named granularity's histo for id.
func (s *Store) UpdateHisto(ctx context.Context, id string, g ids.Granularity, h store.Histo) error {
	field := "histo_daily"
	if g == ids.Hourly {
		field = "histo_hourly"
	}

	result, err := s.pairExchanges.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{field: histoToStrings(h)}})
	if err != nil {
		return fmt.Errorf("mongostore: update histo: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("mongostore: unknown pair-exchange id %q", id)
	}
	return nil
}

// UpdatePairExchangeStats partially merges only the non-nil fields of stats.
func (s *Store) UpdatePairExchangeStats(ctx context.Context, id string, stats store.PartialStats) error {
	set := bson.M{}
	if stats.HasHistoryFor30LastDays != nil {
		set["has_history_for_30_last_days"] = *stats.HasHistoryFor30LastDays
	}
	if stats.HasHistoryFor1Year != nil {
		set["has_history_for_1_year"] = *stats.HasHistoryFor1Year
	}
	if stats.OldestDayAgo != nil {
		set["oldest_day_ago"] = *stats.OldestDayAgo
	}
	if stats.YesterdayVolume != nil {
		set["yesterday_volume"] = stats.YesterdayVolume.String()
	}
	if stats.HistoryLoadedAtDaily != nil {
		set["history_loaded_at_daily"] = *stats.HistoryLoadedAtDaily
	}
	if stats.HistoryLoadedAtHourly != nil {
		set["history_loaded_at_hourly"] = *stats.HistoryLoadedAtHourly
	}
	if stats.LatestDate != nil {
		set["latest_date"] = *stats.LatestDate
	}
	if len(set) == 0 {
		return nil
	}

	_, err := s.pairExchanges.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("mongostore: update pair-exchange stats: %w", err)
	}
	return nil
}

type exchangeDoc struct {
	ID      string `bson:"id"`
	Name    string `bson:"name"`
	Website string `bson:"website"`
}

// UpdateExchanges upserts each exchange by id.
func (s *Store) UpdateExchanges(ctx context.Context, exchanges []*store.ExchangeRecord) error {
	if len(exchanges) == 0 {
		return nil
	}

	var writes []mongo.WriteModel
	for _, ex := range exchanges {
		filter := bson.M{"id": ex.ID}
		update := bson.M{"$set": exchangeDoc{ID: ex.ID, Name: ex.Name, Website: ex.Website}}
		writes = append(writes, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true))
	}

	_, err := s.exchanges.BulkWrite(ctx, writes)
	if err != nil {
		return fmt.Errorf("mongostore: bulk upsert exchanges: %w", err)
	}
	return nil
}

type marketCapDoc struct {
	Day   string   `bson:"day"`
	Coins []string `bson:"coins"`
}

// UpdateMarketCapCoins upserts the day's snapshot.
func (s *Store) UpdateMarketCapCoins(ctx context.Context, day string, coins []string) error {
	filter := bson.M{"day": day}
	update := bson.M{"$set": marketCapDoc{Day: day, Coins: coins}}
	_, err := s.marketCapCoins.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: upsert market-cap coins: %w", err)
	}

	return s.touchMeta(ctx, bson.M{"last_market_cap_sync": time.Now()})
}

// QueryPairExchangesByPair returns records matching any of the given pairs,
// sorted by (hasHistoryFor1Year DESC, yesterdayVolume DESC).
func (s *Store) QueryPairExchangesByPair(ctx context.Context, pairs []store.PairQuery) ([]*store.PairExchangeRecord, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	fromTos := make([]string, len(pairs))
	for i, p := range pairs {
		fromTos[i] = p.From + "_" + p.To
	}

	cursor, err := s.pairExchanges.Find(ctx, bson.M{"from_to": bson.M{"$in": fromTos}})
	if err != nil {
		return nil, fmt.Errorf("mongostore: query pair-exchanges by pair: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []pairExchangeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode pair-exchanges: %w", err)
	}

	records := make([]*store.PairExchangeRecord, len(docs))
	for i, d := range docs {
		records[i] = fromDoc(d)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].HasHistoryFor1Year != records[j].HasHistoryFor1Year {
			return records[i].HasHistoryFor1Year
		}
		return records[i].YesterdayVolume.GreaterThan(records[j].YesterdayVolume)
	})

	return records, nil
}

// QueryPairExchangeByID returns a single record, or nil if absent.
func (s *Store) QueryPairExchangeByID(ctx context.Context, id string, proj *store.Projection) (*store.PairExchangeRecord, error) {
	var doc pairExchangeDoc
	err := s.pairExchanges.FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: query pair-exchange by id: %w", err)
	}
	return fromDoc(doc), nil
}

// QueryPairExchangeIDs returns every known pair-exchange id.
func (s *Store) QueryPairExchangeIDs(ctx context.Context) ([]string, error) {
	cursor, err := s.pairExchanges.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"id": 1}))
	if err != nil {
		return nil, fmt.Errorf("mongostore: query pair-exchange ids: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongostore: decode pair-exchange id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// QueryExchanges returns every known exchange.
func (s *Store) QueryExchanges(ctx context.Context) ([]*store.ExchangeRecord, error) {
	cursor, err := s.exchanges.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongostore: query exchanges: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []exchangeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode exchanges: %w", err)
	}

	out := make([]*store.ExchangeRecord, len(docs))
	for i, d := range docs {
		out[i] = &store.ExchangeRecord{ID: d.ID, Name: d.Name, Website: d.Website}
	}
	return out, nil
}

// QueryMarketCapCoinsForDay returns the snapshot for day, or nil if absent.
func (s *Store) QueryMarketCapCoinsForDay(ctx context.Context, day string) (*store.MarketCapSnapshot, error) {
	var doc marketCapDoc
	err := s.marketCapCoins.FindOne(ctx, bson.M{"day": day}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: query market-cap coins for day: %w", err)
	}
	return &store.MarketCapSnapshot{Day: doc.Day, Coins: doc.Coins}, nil
}

// StatusDB fails if the pair-exchange collection is empty.
func (s *Store) StatusDB(ctx context.Context) error {
	count, err := s.pairExchanges.CountDocuments(ctx, bson.M{}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("mongostore: status check: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("mongostore: no pair-exchanges persisted yet")
	}
	return nil
}

type metaDoc struct {
	ID                string    `bson:"_id"`
	LastLiveRatesSync time.Time `bson:"last_live_rates_sync"`
	LastMarketCapSync time.Time `bson:"last_market_cap_sync"`
}

// GetMeta returns the singleton meta record, with zero-instant defaults if
// it has never been written.
func (s *Store) GetMeta(ctx context.Context) (store.Meta, error) {
	var doc metaDoc
	err := s.meta.FindOne(ctx, bson.M{"_id": metaDocID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return store.Meta{}, nil
	}
	if err != nil {
		return store.Meta{}, fmt.Errorf("mongostore: get meta: %w", err)
	}
	return store.Meta{LastLiveRatesSync: doc.LastLiveRatesSync, LastMarketCapSync: doc.LastMarketCapSync}, nil
}

func (s *Store) touchMeta(ctx context.Context, set bson.M) error {
	_, err := s.meta.UpdateOne(ctx, bson.M{"_id": metaDocID}, bson.M{"$set": set}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: touch meta: %w", err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
