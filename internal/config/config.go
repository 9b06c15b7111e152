package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort      string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
	RateLimitBurst  int

	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	RetryAttempts     int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	BreakerFailures   int
	BreakerSuccesses  int
	BreakerTimeout    time.Duration

	GeocodeSearchURL  string
	GeocodeReverseURL string
	GeocodeTimeout    time.Duration

	CacheBackend          string // "in_memory" or "memcached"
	CacheTTL              time.Duration
	StaleTTL              time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RefreshInterval    time.Duration
	RefreshMode        string // "parallel" or "batch"
	RefreshConcurrency int
	BatchSize          int

	StorageBackend string // "memory", "bolt", "sqlite" or "postgres"
	StoragePath    string
	StorageDSN     string

	MaxLocations    int
	MaxCountdowns   int
	BriefCountdowns int

	BackendURL     string
	BackendAPIKey  string
	BackendTimeout time.Duration

	MQTTEnabled        bool
	MQTTBroker         string
	MQTTClientID       string
	MQTTTopicPrefix    string
	MQTTPublishTimeout time.Duration

	ReadyDelay             time.Duration
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	IdleWindow             time.Duration
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int
}

type fileConfig struct {
	Server struct {
		Port            string `yaml:"port"`
		RequestTimeout  string `yaml:"request_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
		RateLimitRPS    int    `yaml:"rate_limit_rps"`
		RateLimitBurst  int    `yaml:"rate_limit_burst"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL              string `yaml:"url"`
		Timeout          string `yaml:"timeout"`
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		CircuitBreaker   struct {
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"weather_api"`

	Geocoding struct {
		SearchURL  string `yaml:"search_url"`
		ReverseURL string `yaml:"reverse_url"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"geocoding"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		StaleTTL  string `yaml:"stale_ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Refresh struct {
		Interval    string `yaml:"interval"`
		Mode        string `yaml:"mode"`
		Concurrency int    `yaml:"concurrency"`
		BatchSize   int    `yaml:"batch_size"`
	} `yaml:"refresh"`

	Storage struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
		DSN     string `yaml:"dsn"`
	} `yaml:"storage"`

	Limits struct {
		MaxLocations    int `yaml:"max_locations"`
		MaxCountdowns   int `yaml:"max_countdowns"`
		BriefCountdowns int `yaml:"brief_countdowns"`
	} `yaml:"limits"`

	Backend struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"backend"`

	MQTT struct {
		Enabled        bool   `yaml:"enabled"`
		Broker         string `yaml:"broker"`
		ClientID       string `yaml:"client_id"`
		TopicPrefix    string `yaml:"topic_prefix"`
		PublishTimeout string `yaml:"publish_timeout"`
	} `yaml:"mqtt"`

	Lifecycle struct {
		ReadyDelay             string `yaml:"ready_delay"`
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

// envOverrides are read after .env is loaded. Empty or zero means unset.
type envOverrides struct {
	Port            string        `env:"PORT"`
	WeatherAPIURL   string        `env:"WEATHER_API_URL"`
	CacheBackend    string        `env:"CACHE_BACKEND"`
	MemcachedAddrs  string        `env:"MEMCACHED_ADDRS"`
	StorageBackend  string        `env:"STORAGE_BACKEND"`
	StoragePath     string        `env:"STORAGE_PATH"`
	StorageDSN      string        `env:"STORAGE_DSN"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL"`
	RefreshMode     string        `env:"REFRESH_MODE"`
	BackendURL      string        `env:"BACKEND_URL"`
	BackendAPIKey   string        `env:"BACKEND_API_KEY"`
	MQTTEnabled     string        `env:"MQTT_ENABLED"`
	MQTTBroker      string        `env:"MQTT_BROKER"`
}

type secretsFile struct {
	BackendAPIKey string `yaml:"backend_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), then
// .env when present, then environment overrides. The backend API key comes
// from BACKEND_API_KEY or config/secrets.yaml. Call from project root.
func Load() (*Config, error) {
	name := os.Getenv("ENV_NAME")
	if name == "" {
		name = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	dotenv := filepath.Join(cwd, ".env")
	if _, err := os.Stat(dotenv); err == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	configPath := filepath.Join(cwd, "config", name+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := fromFile(&fc)
	if err := applyEnv(cfg, &ov); err != nil {
		return nil, err
	}

	if cfg.BackendAPIKey == "" {
		key, err := readSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.BackendAPIKey = key
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc *fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = orDefault(fc.Server.Port, "8080")
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 10*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Server.ShutdownTimeout, 30*time.Second)
	cfg.RateLimitRPS = positiveOr(fc.Server.RateLimitRPS, 100)
	cfg.RateLimitBurst = positiveOr(fc.Server.RateLimitBurst, 250)

	cfg.WeatherAPIURL = orDefault(fc.WeatherAPI.URL, "https://api.open-meteo.com/v1/forecast")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.RetryAttempts = positiveOr(fc.WeatherAPI.RetryMaxAttempts, 2)
	cfg.RetryBaseDelay = parseDuration(fc.WeatherAPI.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.WeatherAPI.RetryMaxDelay, 2*time.Second)
	cfg.BreakerFailures = positiveOr(fc.WeatherAPI.CircuitBreaker.FailureThreshold, 5)
	cfg.BreakerSuccesses = positiveOr(fc.WeatherAPI.CircuitBreaker.SuccessThreshold, 2)
	cfg.BreakerTimeout = parseDuration(fc.WeatherAPI.CircuitBreaker.Timeout, 30*time.Second)

	cfg.GeocodeSearchURL = orDefault(fc.Geocoding.SearchURL, "https://geocoding-api.open-meteo.com/v1/search")
	cfg.GeocodeReverseURL = orDefault(fc.Geocoding.ReverseURL, "https://nominatim.openstreetmap.org/reverse")
	cfg.GeocodeTimeout = parseDuration(fc.Geocoding.Timeout, 5*time.Second)

	cfg.CacheBackend = strings.ToLower(orDefault(fc.Cache.Backend, "in_memory"))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 30*time.Minute)
	cfg.StaleTTL = parseDurationOrZero(fc.Cache.StaleTTL, 24*time.Hour)
	cfg.MemcachedAddrs = orDefault(fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)

	cfg.RefreshInterval = parseDurationOrZero(fc.Refresh.Interval, 15*time.Minute)
	cfg.RefreshMode = strings.ToLower(orDefault(fc.Refresh.Mode, "parallel"))
	cfg.RefreshConcurrency = positiveOr(fc.Refresh.Concurrency, 4)
	cfg.BatchSize = positiveOr(fc.Refresh.BatchSize, 10)

	cfg.StorageBackend = strings.ToLower(orDefault(fc.Storage.Backend, "bolt"))
	cfg.StoragePath = orDefault(fc.Storage.Path, "data/dailybrief.db")
	cfg.StorageDSN = strings.TrimSpace(fc.Storage.DSN)

	cfg.MaxLocations = positiveOr(fc.Limits.MaxLocations, 10)
	cfg.MaxCountdowns = positiveOr(fc.Limits.MaxCountdowns, 20)
	cfg.BriefCountdowns = positiveOr(fc.Limits.BriefCountdowns, 3)

	cfg.BackendURL = strings.TrimSpace(fc.Backend.URL)
	cfg.BackendTimeout = parseDuration(fc.Backend.Timeout, 10*time.Second)

	cfg.MQTTEnabled = fc.MQTT.Enabled
	cfg.MQTTBroker = orDefault(fc.MQTT.Broker, "tcp://localhost:1883")
	cfg.MQTTClientID = orDefault(fc.MQTT.ClientID, "dailybrief")
	cfg.MQTTTopicPrefix = orDefault(fc.MQTT.TopicPrefix, "dailybrief")
	cfg.MQTTPublishTimeout = parseDuration(fc.MQTT.PublishTimeout, 5*time.Second)

	cfg.ReadyDelay = parseDuration(fc.Lifecycle.ReadyDelay, 3*time.Second)
	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = positiveOr(fc.Lifecycle.OverloadThresholdPct, 80)
	cfg.IdleThresholdReqPerMin = positiveOr(fc.Lifecycle.IdleThresholdReqPerMin, 5)
	cfg.IdleWindow = parseDuration(fc.Lifecycle.IdleWindow, 5*time.Minute)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = positiveOr(fc.Lifecycle.DegradedErrorPct, 5)
	return cfg
}

func applyEnv(cfg *Config, ov *envOverrides) error {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.ServerPort, ov.Port)
	set(&cfg.WeatherAPIURL, ov.WeatherAPIURL)
	set(&cfg.CacheBackend, strings.ToLower(ov.CacheBackend))
	set(&cfg.MemcachedAddrs, ov.MemcachedAddrs)
	set(&cfg.StorageBackend, strings.ToLower(ov.StorageBackend))
	set(&cfg.StoragePath, ov.StoragePath)
	set(&cfg.StorageDSN, ov.StorageDSN)
	set(&cfg.RefreshMode, strings.ToLower(ov.RefreshMode))
	set(&cfg.BackendURL, ov.BackendURL)
	set(&cfg.BackendAPIKey, ov.BackendAPIKey)
	set(&cfg.MQTTBroker, ov.MQTTBroker)
	if ov.RefreshInterval > 0 {
		cfg.RefreshInterval = ov.RefreshInterval
	}
	if v := strings.TrimSpace(ov.MQTTEnabled); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MQTT_ENABLED: %w", err)
		}
		cfg.MQTTEnabled = b
	}
	return nil
}

func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.BackendAPIKey), nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
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
// Zero and negative durations are returned as-is; callers treat zero as disabled.
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

// validate performs post-load validation of configuration values.
// RequestTimeout is raised above WeatherAPITimeout and a non-zero StaleTTL
// is raised to CacheTTL when needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.StaleTTL < 0 {
		return fmt.Errorf("cache.stale_ttl must not be negative")
	}
	if cfg.StaleTTL > 0 && cfg.StaleTTL < cfg.CacheTTL {
		cfg.StaleTTL = cfg.CacheTTL
	}
	if cfg.RefreshInterval < 0 {
		return fmt.Errorf("refresh.interval must not be negative")
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.RefreshMode {
	case "parallel", "batch":
	default:
		return fmt.Errorf("refresh.mode must be parallel or batch, got %q", cfg.RefreshMode)
	}
	switch cfg.StorageBackend {
	case "memory":
	case "bolt", "sqlite":
		if cfg.StoragePath == "" {
			return fmt.Errorf("storage.path required for %s", cfg.StorageBackend)
		}
	case "postgres":
		if cfg.StorageDSN == "" {
			return fmt.Errorf("storage.dsn (or STORAGE_DSN) required for postgres")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, bolt, sqlite or postgres, got %q", cfg.StorageBackend)
	}
	if cfg.BackendURL != "" && cfg.BackendAPIKey == "" {
		return fmt.Errorf("BACKEND_API_KEY required when backend.url is set (set env or config/secrets.yaml backend_api_key)")
	}
	return nil
}
