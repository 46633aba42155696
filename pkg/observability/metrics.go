package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Storage tier metrics
	TierFallbacksTotal *prometheus.CounterVec
	TierErrorsTotal    *prometheus.CounterVec

	// Counter store metrics
	ViewsBumpedTotal   prometheus.Counter
	ViewsDedupedTotal  prometheus.Counter
	LikeTogglesTotal   *prometheus.CounterVec
	MetricOverwrites   prometheus.Counter

	// Heatmap metrics
	HeatmapCellsTotal    prometheus.Counter
	HeatmapBatchSize     prometheus.Histogram
	HeatmapRollupErrors  prometheus.Counter

	// Event pipeline metrics
	EventsIngestedTotal *prometheus.CounterVec
	EventsDroppedTotal  *prometheus.CounterVec
	FlushBatchSize      prometheus.Histogram
	FlushDuration       prometheus.Histogram

	// Rate limiter metrics
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Resolve cache metrics
	ResolveCacheHitsTotal   prometheus.Counter
	ResolveCacheMissesTotal prometheus.Counter
	ResolveCacheSharedTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		TierFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_storage_tier_fallbacks_total",
				Help: "Times a storage tier failed and the next tier was used",
			},
			[]string{"component", "tier"},
		),
		TierErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_storage_tier_errors_total",
				Help: "Storage tier operation errors",
			},
			[]string{"component", "tier"},
		),
		ViewsBumpedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_views_bumped_total",
				Help: "View counter increments applied",
			},
		),
		ViewsDedupedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_views_deduped_total",
				Help: "View bumps suppressed by the viewer dedup set",
			},
		),
		LikeTogglesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_like_toggles_total",
				Help: "Like state transitions applied",
			},
			[]string{"direction"},
		),
		MetricOverwrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_metric_overwrites_total",
				Help: "Admin metric overwrites applied",
			},
		),
		HeatmapCellsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_heatmap_cells_total",
				Help: "Heatmap cell increments recorded",
			},
		),
		HeatmapBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulse_heatmap_batch_cells",
				Help:    "Merged cells per recorded heatmap batch",
				Buckets: prometheus.LinearBuckets(1, 5, 7),
			},
		),
		HeatmapRollupErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_heatmap_rollup_errors_total",
				Help: "Best-effort heatmap rollup sink failures",
			},
		),
		EventsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_events_ingested_total",
				Help: "Events accepted by the ingestion path",
			},
			[]string{"path"},
		),
		EventsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_events_dropped_total",
				Help: "Events dropped during validation",
			},
			[]string{"reason"},
		),
		FlushBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulse_flush_batch_size",
				Help:    "Events processed per flush",
				Buckets: prometheus.ExponentialBuckets(1, 4, 6),
			},
		),
		FlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulse_flush_duration_seconds",
				Help:    "Flush duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_ratelimit_rejections_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"bucket"},
		),
		ResolveCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_resolve_cache_hits_total",
				Help: "Resolve cache fresh hits",
			},
		),
		ResolveCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_resolve_cache_misses_total",
				Help: "Resolve cache misses that invoked the factory",
			},
		),
		ResolveCacheSharedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_resolve_cache_shared_total",
				Help: "Resolve calls that joined an in-flight computation",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TierFallbacksTotal,
		m.TierErrorsTotal,
		m.ViewsBumpedTotal,
		m.ViewsDedupedTotal,
		m.LikeTogglesTotal,
		m.MetricOverwrites,
		m.HeatmapCellsTotal,
		m.HeatmapBatchSize,
		m.HeatmapRollupErrors,
		m.EventsIngestedTotal,
		m.EventsDroppedTotal,
		m.FlushBatchSize,
		m.FlushDuration,
		m.RateLimitRejectionsTotal,
		m.ResolveCacheHitsTotal,
		m.ResolveCacheMissesTotal,
		m.ResolveCacheSharedTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler for the given registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware records request counts and latencies per route.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
