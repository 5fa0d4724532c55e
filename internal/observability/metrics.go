package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate on the exposition surface. Watch for: scrape gaps.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. Watch for: slow scrapes as the location count grows.
	HTTPRequestDuration *prometheus.HistogramVec

	// Upstream call rate per location, endpoint and outcome. Watch for: rate_limited, client_error.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Upstream latency. Watch for: p99 approaching the client timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Ticks served from cache (not yet eligible) and 304 answers.
	CacheHitsTotal *prometheus.CounterVec

	// Failed refreshes by category. Watch for: parsing (upstream contract drift), forbidden (User-Agent).
	FetchErrorsTotal *prometheus.CounterVec

	// One series per location and state; the current state reads 1.
	LocationState *prometheus.GaugeVec

	// Coordinate resolutions by source (upstream, store) or failure.
	ResolutionsTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Upstream fetches currently running.
	FetchesInFlight prometheus.Gauge
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_exporter_http_requests_total",
			Help: "Total number of HTTP requests served by the exporter",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weather_exporter_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_api_calls_total",
			Help: "Total number of API calls made",
		},
		[]string{"location", "endpoint", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weather_api_duration_seconds",
			Help:    "Upstream API latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_cache_hits_total",
			Help: "Number of times cached data was used",
		},
		[]string{"location"},
	)
	FetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_fetch_errors_total",
			Help: "Failed refreshes by error category",
		},
		[]string{"location", "category"},
	)
	LocationState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weather_location_state",
			Help: "Cache entry state per location (1 for the current state)",
		},
		[]string{"location", "state"},
	)
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_resolutions_total",
			Help: "Location name resolutions by result",
		},
		[]string{"result"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weather_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"component"},
	)
	FetchesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weather_fetches_in_flight",
			Help: "Number of location refreshes currently running",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		WeatherAPICallsTotal, WeatherAPIDuration,
		CacheHitsTotal, FetchErrorsTotal,
		LocationState, ResolutionsTotal,
		CircuitBreakerState, FetchesInFlight,
	)
}

// Register adds a collector to the exporter registry.
func Register(c prometheus.Collector) error {
	return registry.Register(c)
}

// Unregister removes a collector from the exporter registry.
func Unregister(c prometheus.Collector) bool {
	return registry.Unregister(c)
}

// RecordAPICall records one upstream call and its latency.
func RecordAPICall(location, endpoint, status string, seconds float64) {
	WeatherAPICallsTotal.WithLabelValues(location, endpoint, status).Inc()
	WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(seconds)
}

// SetCircuitBreakerState records the breaker state for component.
func SetCircuitBreakerState(component string, state int) {
	CircuitBreakerState.WithLabelValues(component).Set(float64(state))
}

// SetLocationState marks state as current for location and clears the others.
func SetLocationState(location, state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		LocationState.WithLabelValues(location, s).Set(v)
	}
}

// MetricsHandler returns an http.Handler that serves weather, exporter and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
