package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the Prometheus namespace for all api-auth metrics
	Namespace = "api_auth"

	LabelResult = "result"
	LabelMethod = "method"
	LabelRoute  = "route"
	LabelStatus = "status_code"

	// ResultOK labels a successful verification or refresh
	ResultOK = "ok"
	// ResultError labels a failed refresh
	ResultError = "error"
)

// Metrics holds the collectors for one application instance. Each instance
// owns its registry so tests and multiple engines never collide. All methods
// are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	verifications      *prometheus.CounterVec
	verifyDuration     prometheus.Histogram
	keySetRefreshes    *prometheus.CounterVec
	keySetKeys         prometheus.Gauge
	keyLookups         *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpRequestSeconds *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "token_verifications_total",
				Help:      "Token verifications by result (ok or the rejection kind)",
			},
			[]string{LabelResult},
		),
		verifyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "token_verification_duration_seconds",
				Help:      "Duration of token verifications, including any key set refresh",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
		),
		keySetRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "jwks",
				Name:      "refreshes_total",
				Help:      "Key set fetches from the issuer by result",
			},
			[]string{LabelResult},
		),
		keySetKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "jwks",
				Name:      "keys",
				Help:      "Number of usable keys in the current key set",
			},
		),
		keyLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "jwks",
				Name:      "lookups_total",
				Help:      "Key lookups answered from the cached key set (hit) or requiring a refresh (miss)",
			},
			[]string{LabelResult},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status code",
			},
			[]string{LabelMethod, LabelRoute, LabelStatus},
		),
		httpRequestSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration by method and route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{LabelMethod, LabelRoute},
		),
	}

	m.registry.MustRegister(
		m.verifications,
		m.verifyDuration,
		m.keySetRefreshes,
		m.keySetKeys,
		m.keyLookups,
		m.httpRequests,
		m.httpRequestSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordVerification counts one verification outcome
func (m *Metrics) RecordVerification(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
	m.verifyDuration.Observe(duration.Seconds())
}

// RecordKeySetRefresh counts one issuer fetch. keys is ignored on failure.
func (m *Metrics) RecordKeySetRefresh(err error, keys int) {
	if m == nil {
		return
	}
	if err != nil {
		m.keySetRefreshes.WithLabelValues(ResultError).Inc()
		return
	}
	m.keySetRefreshes.WithLabelValues(ResultOK).Inc()
	m.keySetKeys.Set(float64(keys))
}

// RecordKeyLookup counts a cache hit or miss
func (m *Metrics) RecordKeyLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.keyLookups.WithLabelValues("hit").Inc()
		return
	}
	m.keyLookups.WithLabelValues("miss").Inc()
}

// RecordHTTPRequest counts one served request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
