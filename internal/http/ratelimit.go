package http

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-api/internal/apperr"
	"github.com/kjstillabower/weather-api/internal/observability"
	"github.com/kjstillabower/weather-api/internal/ratelimit"
)

// RateLimit admits at most the store's limit of requests per caller per sliding window.
type RateLimit struct {
	store             ratelimit.Store
	trustForwardedFor bool
	logger            *zap.Logger
	now               func() time.Time
}

func NewRateLimit(store ratelimit.Store, trustForwardedFor bool, logger *zap.Logger) *RateLimit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimit{store: store, trustForwardedFor: trustForwardedFor, logger: logger, now: time.Now}
}

func (rl *RateLimit) Name() string { return "rate_limit" }

func (rl *RateLimit) Intercept(w http.ResponseWriter, r *http.Request, next Next) error {
	caller := CallerIdentity(r, rl.trustForwardedFor)
	logger := observability.LoggerFrom(r.Context(), rl.logger)

	d, err := rl.store.Allow(r.Context(), caller, rl.now())
	if err != nil {
		logger.Warn("rate limit store unavailable, allowing request",
			zap.String("caller", caller), zap.Error(err))
		return next(w, r)
	}
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
		logger.Warn("rate limit exceeded",
			zap.String("caller", caller),
			zap.Int("count", d.Count),
			zap.Int("limit", d.Limit),
			zap.Duration("retry_after", d.RetryAfter))
		observability.RateLimitDeniedTotal.Inc()
		return apperr.RateLimited()
	}
	return next(w, r)
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// CallerIdentity returns the source address of r. Forwarding headers are honoured only
// when trustForwardedFor is set, since clients can forge them.
func CallerIdentity(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			return xrip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
