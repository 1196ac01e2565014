// Package ids builds and parses canonical PairExchange identifiers and
// formats/parses the bucket keys used by the two supported granularities.
package ids

import (
	"fmt"
	"strings"
	"time"
)

// Build returns the canonical PairExchange id "<EXCHANGE>_<FROM>_<TO>".
// Exchange is stored verbatim (case is preserved); blacklist comparisons
// elsewhere are case-insensitive, but the id itself is not normalised.
func Build(exchange, from, to string) string {
	return exchange + "_" + from + "_" + to
}

// Parse splits a canonical id back into its three components.
func Parse(id string) (exchange, from, to string, err error) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("ids: malformed pair-exchange id %q", id)
	}
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("ids: malformed pair-exchange id %q", id)
	}
	return parts[0], parts[1], parts[2], nil
}

// Granularity is the closed enumeration of bucket widths the engine
// supports. Extension must be additive; do not reuse these values.
type Granularity int

const (
	Daily Granularity = iota
	Hourly
)

const (
	dayMs  = 86400000
	hourMs = 3600000
)

// BucketMs returns the fixed bucket width, in milliseconds, for g.
func (g Granularity) BucketMs() int64 {
	switch g {
	case Hourly:
		return hourMs
	default:
		return dayMs
	}
}

// Duration is the time.Duration equivalent of BucketMs.
func (g Granularity) Duration() time.Duration {
	return time.Duration(g.BucketMs()) * time.Millisecond
}

func (g Granularity) String() string {
	switch g {
	case Hourly:
		return "hourly"
	default:
		return "daily"
	}
}

// LatestKey is the reserved Histo key denoting the currently open bucket.
const LatestKey = "latest"

// FormatKey renders t as the canonical bucket key for g: "YYYY-MM-DD" for
// Daily, "YYYY-MM-DDTHH" for Hourly. Both are zero-padded and
// locale-independent (UTC).
func (g Granularity) FormatKey(t time.Time) string {
	t = t.UTC()
	switch g {
	case Hourly:
		return t.Format("2006-01-02T15")
	default:
		return t.Format("2006-01-02")
	}
}

// ParseKey recovers the instant a bucket key denotes. Hourly keys are
// completed with ":00" minutes/seconds for unambiguous recovery; daily keys
// recover UTC midnight of that day.
func (g Granularity) ParseKey(key string) (time.Time, error) {
	switch g {
	case Hourly:
		return time.Parse("2006-01-02T15:04:05Z07:00", key+":00:00Z")
	default:
		return time.Parse("2006-01-02", key)
	}
}
