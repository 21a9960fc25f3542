package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-api/internal/client"
	"github.com/kjstillabower/weather-api/internal/config"
	httphandler "github.com/kjstillabower/weather-api/internal/http"
	"github.com/kjstillabower/weather-api/internal/observability"
	"github.com/kjstillabower/weather-api/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		File:        cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings() {
		logger.Warn("config", zap.String("warning", w))
	}

	opts := client.Options{
		APIKey:  cfg.WeatherAPIKey,
		URL:     cfg.WeatherAPIURL,
		Host:    cfg.WeatherAPIHost,
		Timeout: cfg.WeatherAPITimeout,
		MaxRPS:  cfg.WeatherAPIMaxRPS,
		Logger:  logger,
	}
	if cfg.CircuitBreakerEnabled {
		opts.Breaker = client.NewBreaker(cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerTimeout)
		observability.SetCircuitBreakerState("closed")
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}
	weatherClient, err := client.NewRapidAPIClient(opts)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	store, janitor, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("rate-limit store", zap.Error(err))
	}
	if janitor != nil {
		janitor.Start()
	}

	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}

	srv, pipeline := newServer(cfg, weatherClient, store, logger)

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Addr()),
			zap.String("environment", cfg.Environment),
			zap.Strings("pipeline", pipeline.Stages()),
			zap.Int("rate_limit", cfg.RateLimitMaxRequests),
			zap.Duration("rate_limit_window", cfg.RateLimitWindow))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.InFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.InFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if janitor != nil {
		janitor.Stop()
	}
	if err := store.Close(); err != nil {
		logger.Error("rate-limit store close", zap.Error(err))
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newStore builds the rate-limit store for cfg.RateLimitBackend. The janitor is
// non-nil only for the in-memory store and is returned unstarted.
func newStore(cfg *config.Config, logger *zap.Logger) (ratelimit.Store, *ratelimit.Janitor, error) {
	policy := ratelimit.Policy{Limit: cfg.RateLimitMaxRequests, Window: cfg.RateLimitWindow}
	switch cfg.RateLimitBackend {
	case config.BackendMemcached:
		mc, err := ratelimit.NewMemcachedStore(policy, cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, fmt.Errorf("memcached: %w", err)
		}
		if err := mc.Ping(); err != nil {
			logger.Warn("memcached not reachable at startup", zap.Error(err))
		}
		observability.RegisterRateLimitGauges(cfg.RateLimitWindow, nil)
		logger.Info("rate-limit backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, nil, nil
	case config.BackendRedis:
		rs, err := ratelimit.NewRedisStore(policy, ratelimit.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer pingCancel()
		if err := rs.Ping(pingCtx); err != nil {
			logger.Warn("redis not reachable at startup", zap.Error(err))
		}
		observability.RegisterRateLimitGauges(cfg.RateLimitWindow, nil)
		logger.Info("rate-limit backend: redis", zap.String("addr", cfg.RedisAddr))
		return rs, nil, nil
	default:
		mem, err := ratelimit.NewMemoryStore(policy)
		if err != nil {
			return nil, nil, fmt.Errorf("in-memory: %w", err)
		}
		janitor, err := ratelimit.NewJanitor(mem, cfg.RateLimitSweepInterval, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("janitor: %w", err)
		}
		observability.RegisterRateLimitGauges(cfg.RateLimitWindow, mem.Len)
		logger.Info("rate-limit backend: in_memory", zap.Duration("sweep_interval", cfg.RateLimitSweepInterval))
		return mem, janitor, nil
	}
}

// newServer wires handler, router and pipeline into an unstarted http.Server.
func newServer(cfg *config.Config, weatherClient client.WeatherClient, store ratelimit.Store, logger *zap.Logger) (*http.Server, *httphandler.Pipeline) {
	handler := httphandler.NewHandler(weatherClient, httphandler.HandlerConfig{
		Environment:  cfg.Environment,
		MaxBodyBytes: cfg.RequestMaxBodyBytes,
	}, logger)
	router := httphandler.NewRouter(handler)
	pipeline := httphandler.NewPipeline(logger, httphandler.Dispatch(router),
		httphandler.DefaultInterceptors(httphandler.PipelineConfig{
			RequestTimeout:     cfg.RequestTimeout,
			TrustForwardedFor:  cfg.RateLimitTrustForwardedFor,
			CompressionMinSize: cfg.CompressionMinSize,
		}, store, logger)...)

	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      pipeline,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}, pipeline
}
