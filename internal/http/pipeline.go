package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-api/internal/apperr"
	"github.com/kjstillabower/weather-api/internal/observability"
	"github.com/kjstillabower/weather-api/internal/ratelimit"
	"github.com/kjstillabower/weather-api/internal/traffic"
)

// Next continues the chain. A returned error travels back out through the outer stages.
type Next func(w http.ResponseWriter, r *http.Request) error

// Interceptor is one stage of the request pipeline. It may act before and after calling
// next, replace the writer or request context, or short-circuit by not calling next.
type Interceptor interface {
	Name() string
	Intercept(w http.ResponseWriter, r *http.Request, next Next) error
}

// Chain composes interceptors around final. The first interceptor is the outermost.
func Chain(final Next, interceptors ...Interceptor) Next {
	next := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		stage, inner := interceptors[i], next
		next = func(w http.ResponseWriter, r *http.Request) error {
			return stage.Intercept(w, r, inner)
		}
	}
	return next
}

// PipelineConfig carries the settings of the default stages.
type PipelineConfig struct {
	RequestTimeout     time.Duration
	TrustForwardedFor  bool
	CompressionMinSize int
}

// DefaultInterceptors returns the fixed production order: error handler, timeout,
// rate limiter, compressor, access logger, CORS.
func DefaultInterceptors(cfg PipelineConfig, store ratelimit.Store, logger *zap.Logger) []Interceptor {
	return []Interceptor{
		NewErrorHandler(cfg.TrustForwardedFor, logger),
		NewTimeout(cfg.RequestTimeout, logger),
		NewRateLimit(store, cfg.TrustForwardedFor, logger),
		NewCompressor(cfg.CompressionMinSize, logger),
		NewAccessLog(cfg.TrustForwardedFor, logger),
		NewCORS(),
	}
}

// Pipeline is the http.Handler at the edge of the service. It tags every request with a
// correlation ID and request-scoped logger, runs the chain and records request metrics.
type Pipeline struct {
	logger *zap.Logger
	chain  Next
	stages []string
}

// NewPipeline builds the chain once. It is not reconfigured per request.
func NewPipeline(logger *zap.Logger, final Next, interceptors ...Interceptor) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	stages := make([]string, 0, len(interceptors))
	for _, ic := range interceptors {
		stages = append(stages, ic.Name())
	}
	return &Pipeline{logger: logger, chain: Chain(final, interceptors...), stages: stages}
}

// Stages lists interceptor names from outermost to innermost.
func (p *Pipeline) Stages() []string {
	return append([]string(nil), p.stages...)
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	globalInFlightTracker.Increment()
	defer globalInFlightTracker.Decrement()
	observability.HTTPRequestsInFlight.Inc()
	defer observability.HTTPRequestsInFlight.Dec()

	corrID := r.Header.Get("X-Correlation-ID")
	if corrID == "" {
		corrID = uuid.New().String()
	}
	w.Header().Set("X-Correlation-ID", corrID)

	logger := p.logger.With(zap.String("correlation_id", corrID))
	ctx := observability.WithCorrelationID(r.Context(), corrID)
	ctx = observability.WithLogger(ctx, logger)
	r = r.WithContext(ctx)

	recorder := newStatusRecorder(w)
	if err := p.chain(recorder, r); err != nil {
		// Only reachable when the chain has no error handler.
		logger.Error("unhandled pipeline error", zap.Error(err))
		if !recorder.wroteHeader {
			writeError(recorder, apperr.Internal(err))
		}
	}

	route := routeLabel(r)
	observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, statusCodeString(recorder.statusCode)).Inc()
	observability.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	traffic.RecordStatus(recorder.statusCode)
}

// routeLabel bounds metric cardinality to the registered routes.
func routeLabel(r *http.Request) string {
	switch r.URL.Path {
	case "/", weatherPath, "/metrics":
		return r.URL.Path
	default:
		return "unmatched"
	}
}
