package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-api/internal/models"
	"github.com/kjstillabower/weather-api/internal/observability"
)

// WeatherClient fetches current conditions for a city.
type WeatherClient interface {
	GetCurrentWeather(ctx context.Context, city string) (models.NormalizedWeather, error)
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
)

const (
	DefaultURL = "https://weatherapi-com.p.rapidapi.com/current.json"

	headerAPIKey  = "X-RapidAPI-Key"
	headerAPIHost = "X-RapidAPI-Host"

	// maxResponseBytes caps how much of a provider body is read.
	maxResponseBytes = 1 << 20
)

// Options configures a RapidAPIClient.
type Options struct {
	APIKey string
	// URL is the current-conditions endpoint. Defaults to DefaultURL.
	URL string
	// Host is sent as X-RapidAPI-Host. Defaults to the host of URL.
	Host string
	// Timeout bounds a single provider call. Zero leaves only the caller's context.
	Timeout time.Duration
	// MaxRPS throttles outbound calls process-wide. Zero disables throttling.
	MaxRPS int
	// Breaker, when set, short-circuits calls while the provider keeps failing.
	Breaker *gobreaker.CircuitBreaker
	Logger  *zap.Logger
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// RapidAPIClient calls WeatherAPI.com through RapidAPI. Every call is a fresh round trip;
// nothing is retried or cached.
type RapidAPIClient struct {
	apiKey  string
	apiURL  *url.URL
	host    string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewRapidAPIClient(opts Options) (*RapidAPIClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	rawURL := opts.URL
	if rawURL == "" {
		rawURL = DefaultURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q: scheme and host required", rawURL)
	}
	host := opts.Host
	if host == "" {
		host = u.Hostname()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	var limiter *rate.Limiter
	if opts.MaxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), opts.MaxRPS)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RapidAPIClient{
		apiKey:  opts.APIKey,
		apiURL:  u,
		host:    host,
		client:  httpClient,
		limiter: limiter,
		breaker: opts.Breaker,
		logger:  logger,
	}, nil
}

// NewBreaker returns a circuit breaker that opens after failureThreshold consecutive
// upstream failures and probes again after openTimeout. Unknown cities are not failures.
func NewBreaker(failureThreshold int, openTimeout time.Duration) *gobreaker.CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weather_api",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrLocationNotFound)
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			observability.SetCircuitBreakerState(to.String())
		},
	})
}

// providerResponse mirrors the fields used from WeatherAPI.com's current.json.
// Pointers distinguish a missing field from a zero value.
type providerResponse struct {
	Current *struct {
		TempC *float64 `json:"temp_c"`
	} `json:"current"`
	Location *struct {
		Lat  *float64 `json:"lat"`
		Lon  *float64 `json:"lon"`
		Name *string  `json:"name"`
	} `json:"location"`
}

// GetCurrentWeather returns the normalized conditions for city.
// A non-2xx provider status yields ErrLocationNotFound; anything else that prevents a
// complete result yields ErrUpstreamFailure. Cancelling ctx aborts the outbound call.
func (c *RapidAPIClient) GetCurrentWeather(ctx context.Context, city string) (models.NormalizedWeather, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.NormalizedWeather{}, c.fail(fmt.Errorf("%w: throttle: %w", ErrUpstreamFailure, err))
		}
	}
	if c.breaker == nil {
		data, err := c.callAPI(ctx, city)
		if err != nil {
			return models.NormalizedWeather{}, c.fail(err)
		}
		return data, nil
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callAPI(ctx, city)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
		}
		return models.NormalizedWeather{}, c.fail(err)
	}
	return result.(models.NormalizedWeather), nil
}

func (c *RapidAPIClient) fail(err error) error {
	observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
	return err
}

func (c *RapidAPIClient) callAPI(ctx context.Context, city string) (models.NormalizedWeather, error) {
	start := time.Now()
	logger := observability.LoggerFrom(ctx, c.logger)
	logger.Debug("fetching weather data", zap.String("city", city))

	req, err := c.buildRequest(ctx, city)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.NormalizedWeather{}, fmt.Errorf("%w: build request: %w", ErrUpstreamFailure, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		logger.Error("weather request failed", zap.String("city", city), zap.Error(err))
		return models.NormalizedWeather{}, fmt.Errorf("%w: http request failed: %w", ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		logger.Error("weather provider returned error status",
			zap.String("city", city), zap.Int("status_code", resp.StatusCode))
		return models.NormalizedWeather{}, fmt.Errorf("%w: HTTP %d", ErrLocationNotFound, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.NormalizedWeather{}, fmt.Errorf("%w: read response body: %w", ErrUpstreamFailure, err)
	}

	var apiResp providerResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.NormalizedWeather{}, fmt.Errorf("%w: parse response: %w", ErrUpstreamFailure, err)
	}

	data, err := mapResponse(apiResp)
	if err != nil {
		return models.NormalizedWeather{}, err
	}
	logger.Debug("fetched weather data",
		zap.String("city", data.CityName),
		zap.Float64("temp_c", data.TemperatureCelsius),
		zap.Duration("duration", time.Since(start)))
	return data, nil
}

func (c *RapidAPIClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	u := *c.apiURL
	params := u.Query()
	params.Set("q", city)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerAPIHost, c.host)
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// mapResponse requires every field; a partial provider body is an upstream failure.
func mapResponse(r providerResponse) (models.NormalizedWeather, error) {
	missing := func(field string) error {
		return fmt.Errorf("%w: parse response: missing field %s", ErrUpstreamFailure, field)
	}
	switch {
	case r.Current == nil || r.Current.TempC == nil:
		return models.NormalizedWeather{}, missing("current.temp_c")
	case r.Location == nil || r.Location.Lat == nil:
		return models.NormalizedWeather{}, missing("location.lat")
	case r.Location.Lon == nil:
		return models.NormalizedWeather{}, missing("location.lon")
	case r.Location.Name == nil:
		return models.NormalizedWeather{}, missing("location.name")
	}
	return models.NormalizedWeather{
		TemperatureCelsius: *r.Current.TempC,
		Latitude:           *r.Location.Lat,
		Longitude:          *r.Location.Lon,
		CityName:           *r.Location.Name,
	}, nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
