package ids

import (
	"testing"
	"time"
)

func TestBuildParseRoundTrip(t *testing.T) {
	cases := []struct{ exchange, from, to string }{
		{"KRAKEN", "BTC", "USD"},
		{"Bitstamp", "ETH", "EUR"},
		{"coinbase", "BTC", "BTC"},
	}

	for _, c := range cases {
		id := Build(c.exchange, c.from, c.to)
		exchange, from, to, err := Parse(id)
		if err != nil {
			t.Fatalf("Parse(%q): %v", id, err)
		}
		if exchange != c.exchange || from != c.from || to != c.to {
			t.Fatalf("round trip mismatch: got (%s,%s,%s), want (%s,%s,%s)",
				exchange, from, to, c.exchange, c.from, c.to)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	for _, id := range []string{"", "KRAKEN_BTC", "KRAKEN_BTC_USD_EXTRA", "__"} {
		if _, _, _, err := Parse(id); err == nil {
			t.Fatalf("expected error parsing %q", id)
		}
	}
}

func TestBucketKeyRoundTrip(t *testing.T) {
	granularities := []Granularity{Daily, Hourly}
	now := time.Date(2026, 7, 29, 14, 37, 0, 0, time.UTC)

	for _, g := range granularities {
		key := g.FormatKey(now)
		parsed, err := g.ParseKey(key)
		if err != nil {
			t.Fatalf("ParseKey(%q) for %s: %v", key, g, err)
		}
		if got := g.FormatKey(parsed); got != key {
			t.Fatalf("round trip mismatch for %s: format(parse(%q)) = %q", g, key, got)
		}
	}
}

func TestGranularityDistinguishable(t *testing.T) {
	now := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)
	if Daily.FormatKey(now) == Hourly.FormatKey(now) {
		t.Fatal("daily and hourly keys must be distinguishable")
	}
}
