package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/weather-api/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request, measured around the whole pipeline.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream weather provider call rate by outcome.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Upstream latency. Watch for: p99 approaching the request timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Upstream failures by client.ErrorCategory.
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Circuit breaker state (0=closed, 1=half_open, 2=open).
	CircuitBreakerState prometheus.Gauge

	// Total weather lookups by requested output format.
	WeatherQueriesTotal *prometheus.CounterVec

	// Per-location query count (allow-list; others go to "other").
	WeatherQueriesByLocationTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: a single caller hammering the service.
	RateLimitDeniedTotal prometheus.Counter

	// Requests cut off by the timeout stage (504).
	RequestTimeoutsTotal prometheus.Counter

	// Responses compressed by the compression stage, by encoding.
	ResponsesCompressedTotal *prometheus.CounterVec

	// Failures rendered by the error handler, by apperr.Kind.
	PipelineErrorsTotal *prometheus.CounterVec

	// trackedLocations is built from config; used to resolve location for metrics.
	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of weather provider calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Weather provider latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Weather provider failures by category",
		},
		[]string{"category"},
	)
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Weather provider circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
	)
	WeatherQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherQueriesTotal",
			Help: "Total number of weather lookups by output format",
		},
		[]string{"format"},
	)
	WeatherQueriesByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherQueriesByLocationTotal",
			Help: "Weather queries by location (allow-list; others use location=other)",
		},
		[]string{"location"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	RequestTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "requestTimeoutsTotal",
			Help: "Total number of requests that exceeded the request timeout (504)",
		},
	)
	ResponsesCompressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "responsesCompressedTotal",
			Help: "Total number of compressed responses by content encoding",
		},
		[]string{"encoding"},
	)
	PipelineErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelineErrorsTotal",
			Help: "Failures rendered by the error handler, by kind",
		},
		[]string{"kind"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIErrorsTotal,
		CircuitBreakerState,
		WeatherQueriesTotal, WeatherQueriesByLocationTotal,
		RateLimitDeniedTotal, RequestTimeoutsTotal,
		ResponsesCompressedTotal, PipelineErrorsTotal,
	)
}

// RegisterRateLimitGauges registers sliding-window load gauges and the tracked-callers gauge.
// trackedCallers may be nil when the rate-limit store cannot report its size.
func RegisterRateLimitGauges(window time.Duration, trackedCallers func() int) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests seen in the rate-limit window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in the rate-limit window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.Count(traffic.Denied, window)) },
			),
		)
		if trackedCallers != nil {
			registry.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitTrackedCallers",
					Help: "Callers currently held by the in-memory rate-limit store",
				},
				func() float64 { return float64(trackedCallers()) },
			))
		}
	})
}

// SetCircuitBreakerState records the breaker state by name (closed, half-open, open).
func SetCircuitBreakerState(state string) {
	switch state {
	case "open":
		CircuitBreakerState.Set(2)
	case "half-open", "half_open":
		CircuitBreakerState.Set(1)
	default:
		CircuitBreakerState.Set(0)
	}
}

// SetTrackedLocations sets the allow-list for location metrics. Non-tracked locations increment "other".
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[normalizeLocationForMetrics(loc)] = struct{}{}
	}
}

// RecordWeatherQuery records a weather query for the given city and output format.
func RecordWeatherQuery(city, format string) {
	WeatherQueriesTotal.WithLabelValues(format).Inc()
	WeatherQueriesByLocationTotal.WithLabelValues(MetricLocationLabel(city)).Inc()
}

// MetricLocationLabel returns the normalized city when it is on the allow-list, else "other".
func MetricLocationLabel(city string) string {
	loc := normalizeLocationForMetrics(city)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc] // nil map read is safe in Go
	trackedLocationsMu.RUnlock()
	if ok {
		return loc
	}
	return "other"
}

func normalizeLocationForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
