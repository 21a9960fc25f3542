package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
)

// Config holds service configuration loaded from .env, YAML and the environment.
// Treat it as read-only once Load returns.
type Config struct {
	Environment string
	ServerPort  string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPIHost    string
	WeatherAPITimeout time.Duration
	WeatherAPIMaxRPS  int

	RequestTimeout      time.Duration
	RequestMaxBodyBytes int64

	RateLimitMaxRequests       int
	RateLimitWindow            time.Duration
	RateLimitBackend           string
	RateLimitSweepInterval     time.Duration
	RateLimitTrustForwardedFor bool

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CompressionMinSize int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerTimeout          time.Duration

	LogLevel string
	LogFile  string

	ShutdownTimeout       time.Duration
	InFlightTimeout       time.Duration
	InFlightCheckInterval time.Duration

	TrackedLocations []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Host    string `yaml:"host"`
		Timeout string `yaml:"timeout"`
		MaxRPS  int    `yaml:"max_rps"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout      string `yaml:"timeout"`
		MaxBodyBytes int64  `yaml:"max_body_bytes"`
	} `yaml:"request"`

	RateLimit struct {
		MaxRequests       *int   `yaml:"max_requests"`
		Window            string `yaml:"window"`
		Backend           string `yaml:"backend"`
		SweepInterval     string `yaml:"sweep_interval"`
		TrustForwardedFor bool   `yaml:"trust_forwarded_for"`
		Memcached         struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"rate_limit"`

	Compression struct {
		MinSize *int `yaml:"min_size"`
	} `yaml:"compression"`

	CircuitBreaker struct {
		Enabled          bool   `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads .env (if present), config/{ENVIRONMENT}.yaml (default development, optional)
// and config/secrets.yaml, then applies environment overrides. The API key comes from
// API_KEY, WEATHER_API_KEY or the secrets file. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("ENVIRONMENT"))
	if env == "" {
		env = "development"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// No file for this environment: defaults and env vars only.
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{Environment: env}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8001")

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("API_KEY"), os.Getenv("WEATHER_API_KEY"))
	if cfg.WeatherAPIKey == "" {
		key, err := readSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("API_KEY required (set API_KEY, WEATHER_API_KEY or config/secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = firstNonEmpty(os.Getenv("WEATHER_API_URL"), fc.WeatherAPI.URL,
		"https://weatherapi-com.p.rapidapi.com/current.json")
	cfg.WeatherAPIHost = strings.TrimSpace(fc.WeatherAPI.Host)
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.WeatherAPIMaxRPS = fc.WeatherAPI.MaxRPS

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)
	cfg.RequestMaxBodyBytes = fc.Request.MaxBodyBytes
	if cfg.RequestMaxBodyBytes <= 0 {
		cfg.RequestMaxBodyBytes = 1 << 20
	}

	cfg.RateLimitMaxRequests = 100
	if fc.RateLimit.MaxRequests != nil {
		cfg.RateLimitMaxRequests = *fc.RateLimit.MaxRequests
	}
	cfg.RateLimitWindow = parseDurationOrZero(fc.RateLimit.Window, 60*time.Second)
	cfg.RateLimitBackend = strings.ToLower(firstNonEmpty(os.Getenv("RATE_LIMIT_BACKEND"), fc.RateLimit.Backend, BackendInMemory))
	cfg.RateLimitSweepInterval = parseDuration(fc.RateLimit.SweepInterval, time.Minute)
	cfg.RateLimitTrustForwardedFor = fc.RateLimit.TrustForwardedFor

	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.RateLimit.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.RateLimit.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.RateLimit.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = firstNonEmpty(os.Getenv("REDIS_ADDR"), fc.RateLimit.Redis.Addr, "localhost:6379")
	cfg.RedisPassword = fc.RateLimit.Redis.Password
	cfg.RedisDB = fc.RateLimit.Redis.DB

	cfg.CompressionMinSize = 1000
	if fc.Compression.MinSize != nil {
		cfg.CompressionMinSize = *fc.Compression.MinSize
	}

	cfg.CircuitBreakerEnabled = fc.CircuitBreaker.Enabled
	cfg.CircuitBreakerFailureThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)

	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), fc.Log.Level)
	cfg.LogFile = firstNonEmpty(fc.Log.File, "logs/weather_api.log")

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.InFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.InFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.TrackedLocations = fc.Metrics.TrackedLocations

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.ServerPort
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (validate rejects them where it matters).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// Warnings describes settings that load but interact badly. Load never rewrites them.
func (c *Config) Warnings() []string {
	var out []string
	if c.RequestTimeout <= c.WeatherAPITimeout {
		out = append(out, fmt.Sprintf(
			"request.timeout %v does not exceed weather_api.timeout %v; slow upstream calls end in 504 rather than an upstream error",
			c.RequestTimeout, c.WeatherAPITimeout))
	}
	return out
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if _, err := strconv.Atoi(cfg.ServerPort); err != nil {
		return fmt.Errorf("port must be numeric, got %q", cfg.ServerPort)
	}
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RateLimitMaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive, got %d", cfg.RateLimitMaxRequests)
	}
	if cfg.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if cfg.CompressionMinSize < 0 {
		return fmt.Errorf("compression.min_size must not be negative, got %d", cfg.CompressionMinSize)
	}
	switch cfg.RateLimitBackend {
	case BackendInMemory, BackendMemcached, BackendRedis:
	default:
		return fmt.Errorf("rate_limit.backend must be in_memory, memcached or redis, got %q", cfg.RateLimitBackend)
	}
	return nil
}
