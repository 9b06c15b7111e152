//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/daily-brief/internal/cache"
	"github.com/kjstillabower/daily-brief/internal/client"
	"github.com/kjstillabower/daily-brief/internal/geocode"
	"github.com/kjstillabower/daily-brief/internal/preset"
	"github.com/kjstillabower/daily-brief/internal/service"
)

// IntegrationTestConfig holds configuration for tests against live services.
type IntegrationTestConfig struct {
	ForecastURL   string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig reads integration settings from the environment.
// Skips unless OPEN_METEO_INTEGRATION is set, since the tests hit the public API.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	if os.Getenv("OPEN_METEO_INTEGRATION") == "" {
		t.Skip("OPEN_METEO_INTEGRATION not set, skipping integration test")
	}
	forecastURL := os.Getenv("WEATHER_API_URL")
	if forecastURL == "" {
		forecastURL = client.DefaultForecastURL
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		ForecastURL:   forecastURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationService wires a service against the live API.
// Returns the service, its cache (for test setup) and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, cache.Cache, func()) {
	weatherClient, err := client.NewOpenMeteoClient(cfg.ForecastURL, 10*time.Second)
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}

	var c cache.Cache = cache.NewInMemoryCache()
	cleanup := func() {}
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		switch {
		case err != nil:
			t.Logf("Memcached config invalid (%v), using in-memory cache", err)
		case mc.Ping() != nil:
			t.Logf("Memcached not available at %s, using in-memory cache", cfg.MemcachedAddr)
			_ = mc.Close()
		default:
			c = mc
			cleanup = func() {
				_ = mc.Clear(context.Background())
				_ = mc.Close()
			}
		}
	}

	geo := geocode.New(geocode.DefaultSearchURL, geocode.DefaultReverseURL, 10*time.Second)
	svc := service.New(service.Config{
		Client:   weatherClient,
		Cache:    c,
		Geocoder: geo,
		Presets:  service.StaticPreset(preset.Standard()),
		TTL:      30 * time.Minute,
		StaleTTL: 24 * time.Hour,
	})
	return svc, c, cleanup
}
