// Package observability provides Prometheus metrics for the sync pipeline and
// the token state aggregator.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "launchpad"

// Metrics holds the counters and gauges. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Feed metrics
	LogsDecoded       *prometheus.CounterVec
	DecodeFailures    *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec
	Evictions         *prometheus.CounterVec
	ReorgRemovals     *prometheus.CounterVec
	FilteredOut       *prometheus.CounterVec
	CacheSize         *prometheus.GaugeVec
	BackfillDuration  *prometheus.HistogramVec

	// Aggregator metrics
	Refreshes      *prometheus.CounterVec
	TrackedTokens  prometheus.Gauge
	RefreshLatency prometheus.Histogram

	// Archive metrics
	ArchiveDropped prometheus.Counter
}

// NewMetrics registers all metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		LogsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "logs_decoded_total",
			Help:      "Total number of ledger logs decoded into events",
		}, []string{"feed", "kind"}),
		DecodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "decode_failures_total",
			Help:      "Total number of ledger logs skipped because they failed to decode",
		}, []string{"feed"}),
		DuplicatesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of events already present in the feed",
		}, []string{"feed"}),
		Evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "evictions_total",
			Help:      "Total number of events evicted from a full feed",
		}, []string{"feed"}),
		ReorgRemovals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reorg_removals_total",
			Help:      "Total number of events removed because their log was reorged out",
		}, []string{"feed"}),
		FilteredOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "filtered_total",
			Help:      "Total number of decoded events rejected by the feed filter",
		}, []string{"feed"}),
		CacheSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "cache_size",
			Help:      "Current number of events held by a feed",
		}, []string{"feed"}),
		BackfillDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "backfill_duration_seconds",
			Help:      "Duration of the historical backfill",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"feed"}),

		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "refreshes_total",
			Help:      "Total number of snapshot refreshes by outcome",
		}, []string{"outcome"}),
		TrackedTokens: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "tracked_tokens",
			Help:      "Number of tokens with a live snapshot tracker",
		}),
		RefreshLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of snapshot refresh reads",
			Buckets:   prometheus.DefBuckets,
		}),

		ArchiveDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "dropped_total",
			Help:      "Total number of archive records dropped because the queue was full",
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Decoded(feed, kind string) {
	if m != nil {
		m.LogsDecoded.WithLabelValues(feed, kind).Inc()
	}
}

func (m *Metrics) DecodeFailed(feed string) {
	if m != nil {
		m.DecodeFailures.WithLabelValues(feed).Inc()
	}
}

func (m *Metrics) Duplicate(feed string) {
	if m != nil {
		m.DuplicatesSkipped.WithLabelValues(feed).Inc()
	}
}

func (m *Metrics) Evicted(feed string) {
	if m != nil {
		m.Evictions.WithLabelValues(feed).Inc()
	}
}

func (m *Metrics) Reorged(feed string) {
	if m != nil {
		m.ReorgRemovals.WithLabelValues(feed).Inc()
	}
}

func (m *Metrics) Filtered(feed string) {
	if m != nil {
		m.FilteredOut.WithLabelValues(feed).Inc()
	}
}

func (m *Metrics) SetCacheSize(feed string, size int) {
	if m != nil {
		m.CacheSize.WithLabelValues(feed).Set(float64(size))
	}
}

func (m *Metrics) ObserveBackfill(feed string, d time.Duration) {
	if m != nil {
		m.BackfillDuration.WithLabelValues(feed).Observe(d.Seconds())
	}
}

// Refresh outcomes.
const (
	RefreshCommitted = "committed"
	RefreshDiscarded = "discarded"
	RefreshFailed    = "failed"
)

func (m *Metrics) Refreshed(outcome string, d time.Duration) {
	if m != nil {
		m.Refreshes.WithLabelValues(outcome).Inc()
		m.RefreshLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) SetTracked(n int) {
	if m != nil {
		m.TrackedTokens.Set(float64(n))
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.ArchiveDropped.Inc()
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server start", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
