// Package service fetches forecasts for tracked locations through the
// per-location cache, coalescing concurrent misses and falling back to stale
// data when Open-Meteo is unavailable.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/daily-brief/internal/cache"
	"github.com/kjstillabower/daily-brief/internal/client"
	"github.com/kjstillabower/daily-brief/internal/geocode"
	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/observability"
	"github.com/kjstillabower/daily-brief/internal/preset"
)

const (
	DefaultConcurrency = 4
	DefaultBatchSize   = 10
)

var ErrNoCoordinates = errors.New("location has no coordinates")

// PresetSource returns the active preset. *preset.Store implements it.
type PresetSource interface {
	Get() preset.WeatherPreset
}

// StaticPreset is a PresetSource that never changes.
type StaticPreset preset.WeatherPreset

func (p StaticPreset) Get() preset.WeatherPreset { return preset.WeatherPreset(p) }

// WeatherPublisher receives every forecast fetched from upstream.
type WeatherPublisher interface {
	PublishWeather(ctx context.Context, locationID string, w models.Weather) error
}

type Config struct {
	Client   client.WeatherClient
	Cache    cache.Cache
	Geocoder geocode.Geocoder
	Presets  PresetSource
	// TTL is how long a forecast is served from cache.
	TTL time.Duration
	// StaleTTL is the maximum age of a cached forecast served when upstream
	// fails (0 = disabled).
	StaleTTL    time.Duration
	Concurrency int
	BatchSize   int
	Publisher   WeatherPublisher
	Logger      *zap.Logger
}

// WeatherService orchestrates weather data retrieval using cache-aside pattern
// with upstream API fallback.
type WeatherService struct {
	client      client.WeatherClient
	cache       cache.Cache
	geocoder    geocode.Geocoder
	presets     PresetSource
	ttl         time.Duration
	staleTTL    time.Duration
	concurrency int
	batchSize   int
	publisher   WeatherPublisher
	logger      *zap.Logger
	group       singleflight.Group
}

func New(cfg Config) *WeatherService {
	if cfg.TTL <= 0 {
		cfg.TTL = cache.DefaultTTL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Presets == nil {
		cfg.Presets = StaticPreset(preset.Standard())
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &WeatherService{
		client:      cfg.Client,
		cache:       cfg.Cache,
		geocoder:    cfg.Geocoder,
		presets:     cfg.Presets,
		ttl:         cfg.TTL,
		staleTTL:    cfg.StaleTTL,
		concurrency: cfg.Concurrency,
		batchSize:   cfg.BatchSize,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
	}
}

// GetWeather returns the forecast for a tracked location.
func (s *WeatherService) GetWeather(ctx context.Context, loc models.TrackedLocation) (models.Weather, error) {
	lw, err := s.GetLocationWeather(ctx, loc, false)
	if err != nil {
		return models.Weather{}, err
	}
	return *lw.Weather, nil
}

// GetLocationWeather is GetWeather with the cache flag. force skips fresh
// cache entries.
func (s *WeatherService) GetLocationWeather(ctx context.Context, loc models.TrackedLocation, force bool) (models.LocationWeather, error) {
	out := models.LocationWeather{Location: loc}
	if !loc.HasCoordinates() {
		return out, ErrNoCoordinates
	}
	coords := loc.Coordinates()
	w, cached, err := s.lookup(ctx, loc.ID, loc.DisplayName(), force, func(context.Context) (models.Coordinates, string, error) {
		return coords, loc.DisplayName(), nil
	})
	if err != nil {
		return out, err
	}
	out.Weather = &w
	out.Cached = cached
	return out, nil
}

// GetWeatherForCity geocodes city and returns its forecast. Results are cached
// under the normalized city name, not a location ID.
func (s *WeatherService) GetWeatherForCity(ctx context.Context, city string) (models.Weather, error) {
	key := cityKey(city)
	if key == cityKey("") {
		return models.Weather{}, geocode.ErrEmptyName
	}
	if s.geocoder == nil {
		return models.Weather{}, fmt.Errorf("%w: no geocoder configured", geocode.ErrLookup)
	}
	w, _, err := s.lookup(ctx, key, "", false, func(ctx context.Context) (models.Coordinates, string, error) {
		place, err := s.geocoder.Search(ctx, city)
		if err != nil {
			return models.Coordinates{}, "", err
		}
		return place.Coordinates(), place.Name, nil
	})
	return w, err
}

type resolveFunc func(ctx context.Context) (models.Coordinates, string, error)

type fetchResult struct {
	weather models.Weather
}

// lookup is the cache-aside path shared by locations and ad-hoc cities. A
// non-empty name replaces the stored location name on the way out.
func (s *WeatherService) lookup(ctx context.Context, key, name string, force bool, resolve resolveFunc) (models.Weather, bool, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)
	p := s.presets.Get()
	fp := p.Fingerprint()

	if !force {
		entry, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			observability.CacheErrorsTotal.WithLabelValues("get").Inc()
			logger.Warn("cache get failed", zap.String("key", key), zap.String("category", categorizeCacheError(err)), zap.Error(err))
		case ok && entry.Fingerprint == fp:
			observability.CacheHitsTotal.WithLabelValues("weather").Inc()
			logger.Debug("cache hit", zap.String("key", key))
			w := entry.Weather
			if name != "" {
				w.Location = name
			}
			return w, true, nil
		}
	}
	observability.CacheMissesTotal.WithLabelValues("weather").Inc()
	logger.Debug("cache miss, fetching upstream", zap.String("key", key), zap.Bool("force", force))

	// Waiters share one upstream call. The call runs detached from the first
	// caller's cancellation; each caller still stops waiting on its own ctx.
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key+"|"+fp, func() (any, error) {
		coords, resolvedName, err := resolve(detached)
		if err != nil {
			return nil, err
		}
		w, err := s.client.Forecast(detached, coords, p)
		if err != nil {
			return nil, err
		}
		w.Location = resolvedName
		s.store(detached, key, w, fp)
		return fetchResult{weather: w}, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return models.Weather{}, false, ctx.Err()
	case res = <-ch:
	}
	if res.Shared {
		observability.RequestCoalescedTotal.Inc()
	}
	if res.Err == nil {
		w := res.Val.(fetchResult).weather
		if name != "" {
			w.Location = name
		}
		return w, false, nil
	}

	upstreamErr := res.Err
	if errors.Is(upstreamErr, geocode.ErrCityNotFound) || errors.Is(upstreamErr, geocode.ErrEmptyName) {
		return models.Weather{}, false, upstreamErr
	}
	if stale, ok := s.staleFallback(ctx, key, logger); ok {
		if name != "" {
			stale.Location = name
		}
		return stale, true, nil
	}
	return models.Weather{}, false, fmt.Errorf("fetch weather for %s: %w", key, upstreamErr)
}

func (s *WeatherService) staleFallback(ctx context.Context, key string, logger *zap.Logger) (models.Weather, bool) {
	if s.staleTTL <= 0 {
		return models.Weather{}, false
	}
	entry, ok, err := s.cache.GetStale(ctx, key, s.staleTTL)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get_stale").Inc()
		return models.Weather{}, false
	}
	if !ok {
		return models.Weather{}, false
	}
	age := entry.Age(time.Now())
	observability.StaleCacheServesTotal.Inc()
	logger.Info("serving stale cache", zap.String("key", key), zap.Duration("age", age))
	w := entry.Weather
	w.Stale = true
	return w, true
}

// store writes w to the cache and publishes it. Failures are logged only.
func (s *WeatherService) store(ctx context.Context, key string, w models.Weather, fp string) {
	logger := observability.LoggerFromContext(ctx, s.logger)
	entry := cache.Entry{Weather: w, FetchedAt: w.FetchedAt, Fingerprint: fp}
	if err := s.cache.Set(ctx, key, entry, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache set failed", zap.String("key", key), zap.String("category", categorizeCacheError(err)), zap.Error(err))
	}
	if s.publisher == nil || strings.HasPrefix(key, cityPrefix) {
		return
	}
	if err := s.publisher.PublishWeather(ctx, key, w); err != nil {
		logger.Warn("publish weather failed", zap.String("location_id", key), zap.Error(err))
	}
}

// RefreshAll fetches every location in parallel, bounded by the configured
// concurrency. Results are in input order; each carries weather or an error
// message.
func (s *WeatherService) RefreshAll(ctx context.Context, locs []models.TrackedLocation, force bool) []models.LocationWeather {
	start := time.Now()
	defer func() {
		observability.RefreshDurationSeconds.WithLabelValues("parallel").Observe(time.Since(start).Seconds())
	}()

	results := make([]models.LocationWeather, len(locs))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, loc := range locs {
		i, loc := i, loc
		g.Go(func() error {
			lw, err := s.GetLocationWeather(ctx, loc, force)
			if err != nil {
				lw.Error = UserMessage(err)
				if !errors.Is(err, ErrNoCoordinates) {
					observability.LoggerFromContext(ctx, s.logger).Warn("refresh location failed",
						zap.String("location_id", loc.ID), zap.Error(err))
				}
			}
			results[i] = lw
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// RefreshAllBatch serves fresh cache hits and fetches the rest in bulk
// requests of at most BatchSize locations, storing each result under its
// location ID.
func (s *WeatherService) RefreshAllBatch(ctx context.Context, locs []models.TrackedLocation, force bool) []models.LocationWeather {
	start := time.Now()
	defer func() {
		observability.RefreshDurationSeconds.WithLabelValues("batch").Observe(time.Since(start).Seconds())
	}()
	logger := observability.LoggerFromContext(ctx, s.logger)
	p := s.presets.Get()
	fp := p.Fingerprint()

	results := make([]models.LocationWeather, len(locs))
	var pending []int
	for i, loc := range locs {
		results[i] = models.LocationWeather{Location: loc}
		if !loc.HasCoordinates() {
			results[i].Error = UserMessage(ErrNoCoordinates)
			continue
		}
		if !force {
			entry, ok, err := s.cache.Get(ctx, loc.ID)
			if err != nil {
				observability.CacheErrorsTotal.WithLabelValues("get").Inc()
			} else if ok && entry.Fingerprint == fp {
				observability.CacheHitsTotal.WithLabelValues("weather").Inc()
				w := entry.Weather
				w.Location = loc.DisplayName()
				results[i].Weather = &w
				results[i].Cached = true
				continue
			}
		}
		observability.CacheMissesTotal.WithLabelValues("weather").Inc()
		pending = append(pending, i)
	}

	for chunkStart := 0; chunkStart < len(pending); chunkStart += s.batchSize {
		chunk := pending[chunkStart:min(chunkStart+s.batchSize, len(pending))]
		coords := make([]models.Coordinates, len(chunk))
		for j, idx := range chunk {
			coords[j] = locs[idx].Coordinates()
		}

		forecasts, err := s.client.ForecastBatch(ctx, coords, p)
		if err != nil {
			logger.Warn("batch fetch failed", zap.Int("locations", len(chunk)), zap.Error(err))
			for _, idx := range chunk {
				if stale, ok := s.staleFallback(ctx, locs[idx].ID, logger); ok {
					stale.Location = locs[idx].DisplayName()
					results[idx].Weather = &stale
					results[idx].Cached = true
					continue
				}
				results[idx].Error = UserMessage(err)
			}
			continue
		}
		for j, idx := range chunk {
			w := forecasts[j]
			w.Location = locs[idx].DisplayName()
			s.store(ctx, locs[idx].ID, w, fp)
			results[idx].Weather = &w
		}
	}
	return results
}

// Invalidate drops the cached forecast for one location.
func (s *WeatherService) Invalidate(ctx context.Context, id string) error {
	if err := s.cache.Delete(ctx, id); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("invalidate %s: %w", id, err)
	}
	return nil
}

func (s *WeatherService) ClearCache(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("clear").Inc()
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// categorizeCacheError returns a stable label for cache error logs (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}

const cityPrefix = "city:"

// cityKey normalizes a city name into its cache key.
func cityKey(city string) string {
	return cityPrefix + normalizeLocation(city)
}

// normalizeLocation normalizes location strings by trimming whitespace and converting to lowercase.
func normalizeLocation(location string) string {
	return strings.ToLower(strings.Join(strings.Fields(location), " "))
}
