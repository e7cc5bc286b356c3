package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	tileFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_fetch_total",
			Help: "Tile fetch+decode outcomes.",
		},
		[]string{"outcome"},
	)

	mosaicDegradedTiles = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mosaic_degraded_tiles",
			Help:    "Number of tiles left as missing data per assembled mosaic.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	renderStageSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "render_stage_duration_seconds",
			Help:    "Duration of render pipeline stages.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"stage"},
	)

	renderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_failures_total",
			Help: "Failed renders by stage and error kind.",
		},
		[]string{"stage", "kind"},
	)

	overlayWarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "overlay_warnings_total",
			Help: "Renders that succeeded without their overlay.",
		},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache backend operations by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache results by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_events_total",
			Help: "Render events by outcome (queued, dropped, error).",
		},
		[]string{"outcome"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_invalidations_total",
			Help: "Processed tile invalidation events by result.",
		},
		[]string{"result"},
	)

	invalidatedKeysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_invalidated_keys_total",
			Help: "Cache keys deleted by invalidation events.",
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	hotKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotness_tracked_cells",
			Help: "Number of H3 cells tracked by the hotness model.",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		tileFetchTotal, mosaicDegradedTiles, renderStageSeconds, renderFailuresTotal,
		overlayWarningsTotal, cacheOpTotal, redisOpDuration, cacheResults, eventsTotal,
		invalidationsTotal, invalidatedKeysTotal, kafkaConsumerErrors, hotKeys,
	}
}

// build info lives only on the default registry; dedicated registries get
// the richer gauge from metrics.Provider.
func init() {
	Init(prometheus.DefaultRegisterer, true)
	prometheus.MustRegister(buildInfo)
}

// Init registers the service collectors on reg; already registered
// collectors are left in place so Init can be called once per registry.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

// IncTileOutcome counts "ok" or a tile failure kind.
func IncTileOutcome(outcome string) {
	tileFetchTotal.WithLabelValues(outcome).Inc()
}

func ObserveMosaicDegraded(n int) {
	mosaicDegradedTiles.Observe(float64(n))
}

func ObserveRenderStage(stage string, durationSeconds float64) {
	renderStageSeconds.WithLabelValues(stage).Observe(durationSeconds)
}

func IncRenderFailure(stage, kind string) {
	renderFailuresTotal.WithLabelValues(stage, kind).Inc()
}

func IncOverlayWarning() {
	overlayWarningsTotal.Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpTotal.WithLabelValues(op, result).Inc()
	redisOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func IncCacheHit(tier string) {
	cacheResults.WithLabelValues(tier, "hit").Inc()
}

func IncCacheMiss(tier string) {
	cacheResults.WithLabelValues(tier, "miss").Inc()
}

func IncEvent(outcome string) {
	eventsTotal.WithLabelValues(outcome).Inc()
}

func ObserveInvalidation(keys int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	invalidationsTotal.WithLabelValues(result).Inc()
	if keys > 0 {
		invalidatedKeysTotal.Add(float64(keys))
	}
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func SetHotKeysGauge(n int) {
	hotKeys.Set(float64(n))
}
