// Package obs centralizes structured logging and Prometheus metrics so
// every package logs and counts the same way, following the logrus +
// client_golang combination used across the sibling APIs in this system.
package obs

import (
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps a logrus.Logger so call sites attach fields the way the
// rest of the system does, without importing logrus directly.
type Logger struct {
	*logrus.Logger
}

// NewLogger builds a Logger. In production (env == "production") output is
// JSON-formatted, written to stdout, or rotated through lumberjack when
// logPath is set; otherwise it is a plain text writer to stdout, matching
// the teacher's dev/prod logging split.
func NewLogger(env, logPath string) *Logger {
	l := logrus.New()

	if env == "production" {
		l.SetFormatter(&logrus.JSONFormatter{})
		var out io.Writer = os.Stdout
		if logPath != "" {
			out = &lumberjack.Logger{
				Filename:   logPath,
				MaxSize:    100, // MB
				MaxBackups: 5,
				MaxAge:     30, // days
				Compress:   true,
			}
		}
		l.SetOutput(out)
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		l.SetOutput(os.Stdout)
	}

	return &Logger{Logger: l}
}

// WithPairExchange is a convenience wrapper every engine/pipeline call site
// uses to tag log lines with the pair-exchange id they concern.
func (l *Logger) WithPairExchange(id string) *logrus.Entry {
	return l.WithField("pair_exchange_id", id)
}

// Metrics is the set of Prometheus collectors shared across the refresh
// engine, live-price pipeline, and HTTP layer.
type Metrics struct {
	RefreshTotal      *prometheus.CounterVec
	ThrottleOutcome   *prometheus.CounterVec
	LiveBatchSize     prometheus.Histogram
	HTTPRequestLatency *prometheus.HistogramVec
	ExtremeRatioTotal *prometheus.CounterVec
	WebsocketOpen     prometheus.Gauge
}

// NewMetrics registers every collector against the default registry. Call
// once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		RefreshTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "countervalue_refresh_total",
			Help: "Refresh operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ThrottleOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "countervalue_throttle_outcome_total",
			Help: "Throttled action outcomes: hit (served from cache), miss (fresh call), coalesced.",
		}, []string{"action", "outcome"}),
		LiveBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "countervalue_live_batch_size",
			Help:    "Number of pair-exchanges coalesced per live-price flush.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		HTTPRequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "countervalue_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
		ExtremeRatioTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "countervalue_extreme_ratio_total",
			Help: "Extreme day-over-day ratio detections by pair-exchange.",
		}, []string{"pair_exchange_id"}),
		WebsocketOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "countervalue_websocket_open",
			Help: "Number of currently open live-price websocket subscriptions.",
		}),
	}
}
