// Package metrics Prometheus-метрики сервиса. Все методы безопасны для nil *Metrics,
// поэтому компоненты можно собирать в тестах без реестра.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsActive  prometheus.Gauge

	// Редиректы и клики
	RedirectsTotal      *prometheus.CounterVec
	ClickEventsTotal    *prometheus.CounterVec
	ClickRecordDuration prometheus.Histogram
	ClickQueueDepth     prometheus.Gauge

	// Кэш и внешние зависимости
	CacheRequestsTotal  *prometheus.CounterVec
	GeoLookupsTotal     *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
}

// NewMetrics регистрирует метрики в reg (prometheus.DefaultRegisterer в main, новый реестр в тестах)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by endpoint, method and status code",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"endpoint", "method"},
		),
		HTTPRequestsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_active",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		RedirectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redirects_total",
				Help: "Resolved short codes by outcome (redirect, fallback, not_a_short_code)",
			},
			[]string{"outcome"},
		),
		ClickEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "click_events_total",
				Help: "Click events by result (recorded, failed, dropped)",
			},
			[]string{"result"},
		),
		ClickRecordDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "click_record_duration_seconds",
				Help:    "Time spent enriching and storing one click event",
				Buckets: prometheus.DefBuckets,
			},
		),
		ClickQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "click_queue_depth",
				Help: "Click events waiting in the recorder queue",
			},
		),
		CacheRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "link_cache_requests_total",
				Help: "Link cache lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		GeoLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geo_lookups_total",
				Help: "External geolocation lookups by result",
			},
			[]string{"result"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
	}
}

func (m *Metrics) ObserveRedirect(outcome string) {
	if m == nil {
		return
	}
	m.RedirectsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveClick(result string, seconds float64) {
	if m == nil {
		return
	}
	m.ClickEventsTotal.WithLabelValues(result).Inc()
	if seconds > 0 {
		m.ClickRecordDuration.Observe(seconds)
	}
}

func (m *Metrics) SetClickQueueDepth(n int) {
	if m == nil {
		return
	}
	m.ClickQueueDepth.Set(float64(n))
}

func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveGeoLookup(result string) {
	if m == nil {
		return
	}
	m.GeoLookupsTotal.WithLabelValues(result).Inc()
}

// SetBreakerState state в числовом виде gobreaker.State
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
