package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/daily-brief/internal/backend"
	"github.com/kjstillabower/daily-brief/internal/brief"
	"github.com/kjstillabower/daily-brief/internal/cache"
	"github.com/kjstillabower/daily-brief/internal/circuitbreaker"
	"github.com/kjstillabower/daily-brief/internal/client"
	"github.com/kjstillabower/daily-brief/internal/config"
	"github.com/kjstillabower/daily-brief/internal/countdown"
	"github.com/kjstillabower/daily-brief/internal/geocode"
	"github.com/kjstillabower/daily-brief/internal/gps"
	httphandler "github.com/kjstillabower/daily-brief/internal/http"
	"github.com/kjstillabower/daily-brief/internal/locations"
	"github.com/kjstillabower/daily-brief/internal/notify"
	"github.com/kjstillabower/daily-brief/internal/observability"
	"github.com/kjstillabower/daily-brief/internal/preset"
	"github.com/kjstillabower/daily-brief/internal/service"
	"github.com/kjstillabower/daily-brief/internal/storage"
	"github.com/kjstillabower/daily-brief/internal/storage/bolt"
	"github.com/kjstillabower/daily-brief/internal/storage/postgres"
	"github.com/kjstillabower/daily-brief/internal/storage/sqlite"
)

const breakerComponent = "weather_api"

// app is every long-lived component, wired from config.
type app struct {
	logger     *zap.Logger
	kv         storage.Store
	cache      cache.Cache
	memcached  *cache.MemcachedCache
	breaker    *circuitbreaker.CircuitBreaker
	mqtt       *notify.MQTTPublisher
	weather    *service.WeatherService
	locations  *locations.Store
	countdowns *countdown.Store
	presets    *preset.Store
	geocoder   *geocode.Client
	gps        *gps.Tracker
	account    *backend.Client
	brief      *brief.Composer
	refresher  *cache.Refresher
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.kv, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	logger.Info("storage backend", zap.String("backend", cfg.StorageBackend))

	if a.locations, err = locations.Open(ctx, a.kv, cfg.MaxLocations, logger); err != nil {
		return nil, fmt.Errorf("open locations: %w", err)
	}
	if a.countdowns, err = countdown.Open(ctx, a.kv, cfg.MaxCountdowns, logger); err != nil {
		return nil, fmt.Errorf("open countdowns: %w", err)
	}
	a.presets = preset.NewStore(ctx, a.kv, logger)

	weatherClient, err := client.NewOpenMeteoClientWithRetry(
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	a.breaker = circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailures,
		SuccessThreshold: cfg.BreakerSuccesses,
		Timeout:          cfg.BreakerTimeout,
		Component:        breakerComponent,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(breakerComponent, from.String(), to.String())
			observability.SetCircuitBreakerStateGauge(breakerComponent, observability.CircuitBreakerStateValue(int(to)))
			logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	weatherClient.SetCircuitBreaker(a.breaker)
	observability.SetCircuitBreakerStateGauge(breakerComponent, 0)

	if a.cache, err = a.openCache(cfg); err != nil {
		return nil, err
	}

	var publisher notify.Publisher = notify.NopPublisher{}
	if cfg.MQTTEnabled {
		a.mqtt = notify.NewMQTTPublisher(notify.Config{
			Broker:         cfg.MQTTBroker,
			ClientID:       cfg.MQTTClientID,
			TopicPrefix:    cfg.MQTTTopicPrefix,
			PublishTimeout: cfg.MQTTPublishTimeout,
		}, logger)
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.mqtt.Connect(connectCtx); err != nil {
			logger.Warn("mqtt not connected yet, retrying in background", zap.Error(err))
		}
		cancel()
		publisher = a.mqtt
	}

	a.geocoder = geocode.New(cfg.GeocodeSearchURL, cfg.GeocodeReverseURL, cfg.GeocodeTimeout)
	a.weather = service.New(service.Config{
		Client:      weatherClient,
		Cache:       a.cache,
		Geocoder:    a.geocoder,
		Presets:     a.presets,
		TTL:         cfg.CacheTTL,
		StaleTTL:    cfg.StaleTTL,
		Concurrency: cfg.RefreshConcurrency,
		BatchSize:   cfg.BatchSize,
		Publisher:   publisher,
		Logger:      logger,
	})
	a.gps = gps.NewTracker(a.geocoder, a.locations, a.weather, logger)

	briefCfg := brief.Config{
		Locations:     a.locations,
		Weather:       a.weather,
		Countdowns:    a.countdowns,
		Publisher:     publisher,
		NumCountdowns: cfg.BriefCountdowns,
		Logger:        logger,
	}
	if cfg.BackendURL != "" {
		if a.account, err = backend.New(ctx, cfg.BackendURL, cfg.BackendAPIKey, cfg.BackendTimeout, a.kv, logger); err != nil {
			return nil, fmt.Errorf("backend client: %w", err)
		}
		briefCfg.Account = a.account
		logger.Info("account backend configured", zap.String("url", cfg.BackendURL))
	}
	a.brief = brief.NewComposer(briefCfg)
	a.refresher = cache.NewRefresher(a.weather, a.locations, cfg.RefreshMode == httphandler.ModeBatch, logger)
	return a, nil
}

// openStore opens the key-value backend named by cfg.StorageBackend.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "", "memory":
		return storage.NewMemoryStore(), nil
	case "bolt":
		s, err := bolt.Open(cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.StorageDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

func (a *app) openCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.CacheBackend != "memcached" {
		a.logger.Info("cache backend: in_memory")
		return cache.NewInMemoryCacheWithRetention(cfg.StaleTTL), nil
	}
	mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("memcached cache: %w", err)
	}
	mc.SetRetention(cfg.StaleTTL)
	if err := mc.Ping(); err != nil {
		a.logger.Warn("memcached not reachable at startup", zap.String("addrs", cfg.MemcachedAddrs), zap.Error(err))
	}
	a.memcached = mc
	a.logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	return mc, nil
}

// deps exposes the components to the HTTP layer.
func (a *app) deps(cfg *config.Config) httphandler.Deps {
	health := &httphandler.HealthConfig{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
		CircuitOpen: func() bool {
			return a.breaker.State() == circuitbreaker.StateOpen
		},
	}
	if a.memcached != nil {
		health.CachePing = a.memcached.Ping
	}
	return httphandler.Deps{
		Weather:     a.weather,
		Locations:   a.locations,
		Countdowns:  a.countdowns,
		Presets:     a.presets,
		Geocoder:    a.geocoder,
		GPS:         a.gps,
		Brief:       a.brief,
		Account:     a.account,
		Cache:       a.cache,
		Health:      health,
		RefreshMode: cfg.RefreshMode,
		Logger:      a.logger,
	}
}

// Close releases every opened resource. Safe on a partially built app.
func (a *app) Close() {
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.memcached != nil {
		if err := a.memcached.Close(); err != nil {
			a.logger.Error("memcached close", zap.Error(err))
		}
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.logger.Error("storage close", zap.Error(err))
		}
	}
}
