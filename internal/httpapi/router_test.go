package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"countervalue/internal/ids"
	"countervalue/internal/marketcap"
	"countervalue/internal/obs"
	"countervalue/internal/read"
	"countervalue/internal/registry"
	"countervalue/internal/store"
	"countervalue/internal/store/memstore"

	"github.com/shopspring/decimal"
)

type fakeEngine struct{}

func (f *fakeEngine) RefreshAvailablePairExchanges(ctx context.Context) error { return nil }
func (f *fakeEngine) RefreshExchanges(ctx context.Context) error             { return nil }
func (f *fakeEngine) RefreshHisto(ctx context.Context, id string, g ids.Granularity) (store.Histo, error) {
	return store.Histo{ids.LatestKey: decimal.NewFromInt(1)}, nil
}

type fakeMarketCapRefresher struct{}

func (fakeMarketCapRefresher) RefreshMarketCap(ctx context.Context) (*store.MarketCapSnapshot, error) {
	return &store.MarketCapSnapshot{Day: "2026-07-29", Coins: []string{"BTC"}}, nil
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st := memstore.New()
	rec := store.NewDefaultRecord("KRAKEN", "BTC", "USD")
	rec.HasHistoryFor30LastDays = true
	if err := st.InsertPairExchangeData(context.Background(), []*store.PairExchangeRecord{rec}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	reg := registry.Default()
	logger := obs.NewLogger("test", "")
	ranker := marketcap.New(fakeMarketCapRefresher{})
	svc := read.New(&fakeEngine{}, st, ranker, logger, nil)

	return New(svc, st, reg, logger, nil, nil, "test-version"), st
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestPostRatesRejectsDuplicatePairsS6(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"pairs": []map[string]string{
			{"from": "BTC", "to": "USD"},
			{"from": "BTC", "to": "USD"},
		},
	})

	w := doRequest(s, http.MethodPost, "/rates/daily", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate pairs, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPostRatesRejectsAfterDayOnHourly(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"pairs": []map[string]string{
			{"from": "BTC", "to": "USD", "afterDay": "2026-01-01"},
		},
	})

	w := doRequest(s, http.MethodPost, "/rates/hourly", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for afterDay on hourly granularity, got %d", w.Code)
	}
}

func TestPostRatesHappyPath(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"pairs": []map[string]string{
			{"from": "BTC", "to": "USD"},
		},
	})

	w := doRequest(s, http.MethodPost, "/rates/daily", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetTickersReturnsOnlyCrypto(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/tickers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var tickers []string
	if err := json.Unmarshal(w.Body.Bytes(), &tickers); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, tk := range tickers {
		if tk == "USD" {
			t.Fatalf("expected fiat USD excluded from /tickers, got %v", tickers)
		}
	}
}

func TestGetHealthDetailReflectsMetaFreshness(t *testing.T) {
	s, st := newTestServer(t)

	if err := st.UpdateLiveRates(context.Background(), []store.LiveRateUpdate{{PairExchangeID: "KRAKEN_BTC_USD", Rate: decimal.NewFromInt(1)}}); err != nil {
		t.Fatalf("update live rates: %v", err)
	}

	w := doRequest(s, http.MethodGet, "/_health/detail", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 since marketcap was never synced, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetHealthNoop(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/_health/noop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

// TestRatesCacheKeyIsStableAndDiscriminating exercises the pure key-building
// logic postRates uses to address the response cache; it doesn't need a live
// Redis, same as mongostore's conversion-layer tests don't need a live mongod.
func TestRatesCacheKeyIsStableAndDiscriminating(t *testing.T) {
	body := RatesRequest{Pairs: []PairRequest{{From: "BTC", To: "USD"}}}

	k1 := ratesCacheKey("daily", body)
	k2 := ratesCacheKey("daily", body)
	if k1 != k2 {
		t.Fatalf("expected identical bodies to produce identical keys, got %q vs %q", k1, k2)
	}

	if k3 := ratesCacheKey("hourly", body); k3 == k1 {
		t.Fatalf("expected different granularities to produce different keys")
	}

	other := RatesRequest{Pairs: []PairRequest{{From: "ETH", To: "USD"}}}
	if k4 := ratesCacheKey("daily", other); k4 == k1 {
		t.Fatalf("expected different request bodies to produce different keys")
	}
}
