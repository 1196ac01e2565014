package config

import "testing"

func TestSplitNonEmpty(t *testing.T) {
	if got := splitNonEmpty(""); got != nil {
		t.Errorf("expected nil for empty string, got %v", got)
	}

	got := splitNonEmpty("Kraken, Bitstamp ,,ShadyEx")
	want := []string{"Kraken", "Bitstamp", "ShadyEx"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := &Config{
		Database:  DatabaseConfig{Driver: "mongodb"},
		Providers: ProvidersConfig{Name: "bogus"},
	}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestValidateRequiresCoinAPIKey(t *testing.T) {
	cfg := &Config{
		Database:  DatabaseConfig{Driver: "mongodb"},
		Providers: ProvidersConfig{Name: "coinapi"},
	}
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for missing COINAPI_KEY")
	}
}
