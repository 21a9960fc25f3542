package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-api/internal/client"
	"github.com/kjstillabower/weather-api/internal/models"
	"github.com/kjstillabower/weather-api/internal/ratelimit"
)

var london = models.NormalizedWeather{TemperatureCelsius: 11.3, Latitude: 51.52, Longitude: -0.11, CityName: "London"}

type mockWeatherClient struct {
	mu       sync.Mutex
	weather  models.NormalizedWeather
	err      error
	delay    time.Duration
	calls    int
	lastCity string
	ctxErr   error
}

func (m *mockWeatherClient) GetCurrentWeather(ctx context.Context, city string) (models.NormalizedWeather, error) {
	m.mu.Lock()
	m.calls++
	m.lastCity = city
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			m.mu.Lock()
			m.ctxErr = ctx.Err()
			m.mu.Unlock()
			return models.NormalizedWeather{}, fmt.Errorf("%w: %w", client.ErrUpstreamFailure, ctx.Err())
		}
	}
	return m.weather, m.err
}

func (m *mockWeatherClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func newMemoryStore(t *testing.T, limit int) *ratelimit.MemoryStore {
	t.Helper()
	store, err := ratelimit.NewMemoryStore(ratelimit.Policy{Limit: limit, Window: time.Minute})
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	return store
}

func defaultTestConfig() PipelineConfig {
	return PipelineConfig{RequestTimeout: 2 * time.Second, CompressionMinSize: DefaultCompressionMinSize}
}

// newTestService wires the production pipeline around a handler backed by c.
func newTestService(t *testing.T, c client.WeatherClient, cfg PipelineConfig, store ratelimit.Store, logger *zap.Logger) *Pipeline {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = newMemoryStore(t, ratelimit.DefaultLimit)
	}
	handler := NewHandler(c, HandlerConfig{Environment: "test"}, logger)
	return NewPipeline(logger, Dispatch(NewRouter(handler)), DefaultInterceptors(cfg, store, logger)...)
}

func postWeather(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, weatherPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// nextWriting returns a Next that writes status and body.
func nextWriting(status int, body string) Next {
	return func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return nil
	}
}

func nextFailing(err error) Next {
	return func(w http.ResponseWriter, r *http.Request) error { return err }
}
