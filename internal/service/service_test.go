package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/daily-brief/internal/cache"
	"github.com/kjstillabower/daily-brief/internal/client"
	"github.com/kjstillabower/daily-brief/internal/geocode"
	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/preset"
)

type mockWeatherClient struct {
	mu         sync.Mutex
	err        error
	calls      atomic.Int32
	batchCalls atomic.Int32
	batchSizes []int
	release    chan struct{}
}

func forecastFor(c models.Coordinates) models.Weather {
	return models.Weather{
		Coordinates: c,
		Current:     models.CurrentConditions{Temperature: c.Lat, Condition: models.ConditionClear},
		FetchedAt:   time.Now(),
	}
}

func (m *mockWeatherClient) Forecast(ctx context.Context, c models.Coordinates, p preset.WeatherPreset) (models.Weather, error) {
	m.calls.Add(1)
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return models.Weather{}, err
	}
	return forecastFor(c), nil
}

func (m *mockWeatherClient) ForecastBatch(ctx context.Context, coords []models.Coordinates, p preset.WeatherPreset) ([]models.Weather, error) {
	m.batchCalls.Add(1)
	m.mu.Lock()
	m.batchSizes = append(m.batchSizes, len(coords))
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]models.Weather, len(coords))
	for i, c := range coords {
		out[i] = forecastFor(c)
	}
	return out, nil
}

func (m *mockWeatherClient) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

type mockGeocoder struct {
	places map[string]geocode.Place
	calls  atomic.Int32
}

func (m *mockGeocoder) Search(ctx context.Context, name string) (geocode.Place, error) {
	m.calls.Add(1)
	p, ok := m.places[normalizeLocation(name)]
	if !ok {
		return geocode.Place{}, geocode.ErrCityNotFound
	}
	return p, nil
}

func (m *mockGeocoder) Reverse(ctx context.Context, c models.Coordinates) string {
	return geocode.UnknownLocation
}

type mockPublisher struct {
	mu  sync.Mutex
	ids []string
}

func (m *mockPublisher) PublishWeather(ctx context.Context, id string, w models.Weather) error {
	m.mu.Lock()
	m.ids = append(m.ids, id)
	m.mu.Unlock()
	return nil
}

// failingCache errors on every call.
type failingCache struct{}

var errCacheDown = errors.New("memcache: connection refused")

func (failingCache) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	return cache.Entry{}, false, errCacheDown
}
func (failingCache) GetStale(ctx context.Context, key string, maxAge time.Duration) (cache.Entry, bool, error) {
	return cache.Entry{}, false, errCacheDown
}
func (failingCache) Set(ctx context.Context, key string, e cache.Entry, ttl time.Duration) error {
	return errCacheDown
}
func (failingCache) Delete(ctx context.Context, key string) error { return errCacheDown }
func (failingCache) Clear(ctx context.Context) error              { return errCacheDown }

func located(id, name string, lat, lon float64) models.TrackedLocation {
	return models.TrackedLocation{ID: id, CityName: name, Latitude: &lat, Longitude: &lon}
}

func newTestService(c client.WeatherClient, ch cache.Cache) *WeatherService {
	return New(Config{Client: c, Cache: ch, TTL: 30 * time.Minute, StaleTTL: time.Hour})
}

// TestNormalizeLocation verifies that normalizeLocation trims whitespace, converts to lowercase,
// and folds inner whitespace.
func TestNormalizeLocation(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trim and lower", " Seattle ", "seattle"},
		{"inner spaces", "New   York", "new york"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeLocation(tt.in); got != tt.want {
				t.Errorf("normalizeLocation(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestGetWeather_CacheAside verifies that the second call is served from cache.
func TestGetWeather_CacheAside(t *testing.T) {
	ctx := context.Background()
	mc := &mockWeatherClient{}
	s := newTestService(mc, cache.NewInMemoryCache())
	loc := located("loc-1", "Senec", 48.2, 17.4)

	first, err := s.GetLocationWeather(ctx, loc, false)
	if err != nil {
		t.Fatalf("GetLocationWeather() error = %v", err)
	}
	if first.Cached || first.Weather.Location != "Senec" || first.Weather.Current.Temperature != 48.2 {
		t.Errorf("first = cached %v, %+v", first.Cached, first.Weather)
	}

	second, err := s.GetLocationWeather(ctx, loc, false)
	if err != nil {
		t.Fatalf("GetLocationWeather() error = %v", err)
	}
	if !second.Cached {
		t.Error("second call not served from cache")
	}
	if mc.calls.Load() != 1 {
		t.Errorf("upstream called %d times, want 1", mc.calls.Load())
	}

	if _, err := s.GetLocationWeather(ctx, loc, true); err != nil {
		t.Fatal(err)
	}
	if mc.calls.Load() != 2 {
		t.Errorf("force did not bypass cache: %d calls", mc.calls.Load())
	}
}

// TestGetWeather_NoCoordinates verifies that a location without a fix is rejected.
func TestGetWeather_NoCoordinates(t *testing.T) {
	s := newTestService(&mockWeatherClient{}, cache.NewInMemoryCache())
	_, err := s.GetWeather(context.Background(), models.TrackedLocation{ID: "gps", IsCurrentLocation: true})
	if !errors.Is(err, ErrNoCoordinates) {
		t.Errorf("GetWeather() error = %v, want ErrNoCoordinates", err)
	}
}

// TestGetWeather_PresetChangeMisses verifies that entries fetched under another preset are ignored.
func TestGetWeather_PresetChangeMisses(t *testing.T) {
	ctx := context.Background()
	mc := &mockWeatherClient{}
	store := &switchablePreset{p: preset.Standard()}
	s := New(Config{Client: mc, Cache: cache.NewInMemoryCache(), Presets: store})
	loc := located("loc-1", "Senec", 48.2, 17.4)

	_, _ = s.GetWeather(ctx, loc)
	store.set(preset.Complete())
	_, _ = s.GetWeather(ctx, loc)
	if mc.calls.Load() != 2 {
		t.Errorf("upstream called %d times, want 2", mc.calls.Load())
	}
}

type switchablePreset struct {
	mu sync.Mutex
	p  preset.WeatherPreset
}

func (s *switchablePreset) Get() preset.WeatherPreset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p
}

func (s *switchablePreset) set(p preset.WeatherPreset) {
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
}

// TestGetWeather_StaleFallback verifies that an expired entry is served when upstream fails.
func TestGetWeather_StaleFallback(t *testing.T) {
	ctx := context.Background()
	c := cache.NewInMemoryCache()
	old := models.Weather{Current: models.CurrentConditions{Temperature: 3}}
	_ = c.Set(ctx, "loc-1", cache.Entry{Weather: old, FetchedAt: time.Now().Add(-40 * time.Minute), Fingerprint: preset.Standard().Fingerprint()}, 30*time.Minute)

	mc := &mockWeatherClient{err: fmt.Errorf("exhausted retries: %w", client.ErrUpstreamFailure)}
	s := newTestService(mc, c)

	lw, err := s.GetLocationWeather(ctx, located("loc-1", "Senec", 48.2, 17.4), false)
	if err != nil {
		t.Fatalf("GetLocationWeather() error = %v", err)
	}
	if !lw.Weather.Stale || lw.Weather.Current.Temperature != 3 || lw.Weather.Location != "Senec" {
		t.Errorf("stale weather = %+v", lw.Weather)
	}
}

// TestGetWeather_StaleDisabled verifies that the upstream error surfaces without stale fallback.
func TestGetWeather_StaleDisabled(t *testing.T) {
	ctx := context.Background()
	c := cache.NewInMemoryCache()
	_ = c.Set(ctx, "loc-1", cache.Entry{FetchedAt: time.Now().Add(-40 * time.Minute)}, 30*time.Minute)

	mc := &mockWeatherClient{err: client.ErrUpstreamFailure}
	s := New(Config{Client: mc, Cache: c})
	_, err := s.GetWeather(ctx, located("loc-1", "Senec", 48.2, 17.4))
	if !errors.Is(err, client.ErrUpstreamFailure) {
		t.Errorf("GetWeather() error = %v, want ErrUpstreamFailure", err)
	}
}

// TestGetWeather_CacheErrorsDegrade verifies that a broken cache still returns upstream data.
func TestGetWeather_CacheErrorsDegrade(t *testing.T) {
	mc := &mockWeatherClient{}
	s := newTestService(mc, failingCache{})
	w, err := s.GetWeather(context.Background(), located("loc-1", "Senec", 48.2, 17.4))
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if w.Current.Temperature != 48.2 {
		t.Errorf("Temperature = %v", w.Current.Temperature)
	}
}

// TestGetWeather_Coalesces verifies that concurrent misses for one location share one upstream call.
func TestGetWeather_Coalesces(t *testing.T) {
	mc := &mockWeatherClient{release: make(chan struct{})}
	s := newTestService(mc, cache.NewInMemoryCache())
	loc := located("loc-1", "Senec", 48.2, 17.4)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetWeather(context.Background(), loc)
			errs <- err
		}()
	}
	// Let every goroutine reach the shared call before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(mc.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("GetWeather() error = %v", err)
		}
	}
	if got := mc.calls.Load(); got != 1 {
		t.Errorf("upstream called %d times, want 1", got)
	}
}

// TestGetWeather_CallerCancelDoesNotFailOthers verifies that a canceled waiter returns while the shared call completes.
func TestGetWeather_CallerCancelDoesNotFailOthers(t *testing.T) {
	mc := &mockWeatherClient{release: make(chan struct{})}
	c := cache.NewInMemoryCache()
	s := newTestService(mc, c)
	loc := located("loc-1", "Senec", 48.2, 17.4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.GetWeather(ctx, loc)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("GetWeather() error = %v, want context.Canceled", err)
	}

	close(mc.release)
	w, err := s.GetWeather(context.Background(), loc)
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if w.Current.Temperature != 48.2 {
		t.Errorf("Temperature = %v", w.Current.Temperature)
	}
}

// TestGetWeatherForCity verifies geocoding, caching by normalized name and not-found handling.
func TestGetWeatherForCity(t *testing.T) {
	ctx := context.Background()
	mc := &mockWeatherClient{}
	geo := &mockGeocoder{places: map[string]geocode.Place{
		"trnava": {Name: "Trnava", Latitude: 48.37, Longitude: 17.58},
	}}
	s := New(Config{Client: mc, Cache: cache.NewInMemoryCache(), Geocoder: geo})

	w, err := s.GetWeatherForCity(ctx, " Trnava ")
	if err != nil {
		t.Fatalf("GetWeatherForCity() error = %v", err)
	}
	if w.Location != "Trnava" || w.Coordinates.Lat != 48.37 {
		t.Errorf("GetWeatherForCity() = %+v", w)
	}

	w, err = s.GetWeatherForCity(ctx, "TRNAVA")
	if err != nil || w.Location != "Trnava" {
		t.Errorf("second lookup = %+v, %v", w, err)
	}
	if geo.calls.Load() != 1 || mc.calls.Load() != 1 {
		t.Errorf("geocoder %d calls, upstream %d calls, want 1 each", geo.calls.Load(), mc.calls.Load())
	}

	if _, err := s.GetWeatherForCity(ctx, "Atlantis"); !errors.Is(err, geocode.ErrCityNotFound) {
		t.Errorf("GetWeatherForCity(Atlantis) error = %v, want ErrCityNotFound", err)
	}
	if _, err := s.GetWeatherForCity(ctx, "  "); !errors.Is(err, geocode.ErrEmptyName) {
		t.Errorf("GetWeatherForCity(blank) error = %v, want ErrEmptyName", err)
	}
}

// TestRefreshAll verifies input order, per-entry errors and cache population.
func TestRefreshAll(t *testing.T) {
	ctx := context.Background()
	mc := &mockWeatherClient{}
	pub := &mockPublisher{}
	c := cache.NewInMemoryCache()
	s := New(Config{Client: mc, Cache: c, Publisher: pub, Concurrency: 2})

	locs := []models.TrackedLocation{
		{ID: "gps", IsCurrentLocation: true, CityName: models.CurrentLocationName},
		located("a", "A", 10, 1),
		located("b", "B", 20, 2),
		located("c", "C", 30, 3),
	}
	got := s.RefreshAll(ctx, locs, false)
	if len(got) != 4 {
		t.Fatalf("len(RefreshAll()) = %d, want 4", len(got))
	}
	if got[0].Error != MsgNoCoordinates || got[0].Weather != nil {
		t.Errorf("gps result = %+v", got[0])
	}
	for i, want := range []float64{10, 20, 30} {
		r := got[i+1]
		if r.Location.ID != locs[i+1].ID || r.Weather == nil || r.Weather.Current.Temperature != want {
			t.Errorf("result[%d] = %+v", i+1, r)
		}
	}
	if c.Len() != 3 {
		t.Errorf("cache has %d entries, want 3", c.Len())
	}
	if len(pub.ids) != 3 {
		t.Errorf("published %d forecasts, want 3", len(pub.ids))
	}
}

// TestRefreshAll_UpstreamError verifies that failures become user messages.
func TestRefreshAll_UpstreamError(t *testing.T) {
	mc := &mockWeatherClient{err: fmt.Errorf("%w: dial tcp", client.ErrNetwork)}
	s := New(Config{Client: mc, Cache: cache.NewInMemoryCache()})
	got := s.RefreshAll(context.Background(), []models.TrackedLocation{located("a", "A", 1, 1)}, false)
	if got[0].Error != MsgNetwork {
		t.Errorf("Error = %q, want %q", got[0].Error, MsgNetwork)
	}
}

// TestRefreshAllBatch verifies cache hits, chunking and merge by location ID.
func TestRefreshAllBatch(t *testing.T) {
	ctx := context.Background()
	mc := &mockWeatherClient{}
	c := cache.NewInMemoryCache()
	s := New(Config{Client: mc, Cache: c, BatchSize: 2})

	locs := []models.TrackedLocation{
		{ID: "gps", IsCurrentLocation: true},
		located("a", "A", 10, 1),
		located("b", "B", 20, 2),
		located("c", "C", 30, 3),
		located("d", "D", 40, 4),
	}
	// Warm "b" so it is served from cache.
	if _, err := s.GetWeather(ctx, locs[2]); err != nil {
		t.Fatal(err)
	}

	got := s.RefreshAllBatch(ctx, locs, false)
	if got[0].Error != MsgNoCoordinates {
		t.Errorf("gps result = %+v", got[0])
	}
	if !got[2].Cached {
		t.Error("b not served from cache")
	}
	for i, want := range []float64{10, 20, 30, 40} {
		r := got[i+1]
		if r.Weather == nil || r.Weather.Current.Temperature != want || r.Weather.Location != locs[i+1].CityName {
			t.Errorf("result[%d] = %+v", i+1, r)
		}
	}
	if mc.batchCalls.Load() != 2 {
		t.Errorf("batch calls = %d, want 2", mc.batchCalls.Load())
	}
	if len(mc.batchSizes) != 2 || mc.batchSizes[0] != 2 || mc.batchSizes[1] != 1 {
		t.Errorf("batch sizes = %v, want [2 1]", mc.batchSizes)
	}
	for _, id := range []string{"a", "c", "d"} {
		if _, ok, _ := c.Get(ctx, id); !ok {
			t.Errorf("%s not cached after batch", id)
		}
	}
}

// TestRefreshAllBatch_StaleOnFailure verifies per-location stale fallback when a bulk call fails.
func TestRefreshAllBatch_StaleOnFailure(t *testing.T) {
	ctx := context.Background()
	c := cache.NewInMemoryCache()
	_ = c.Set(ctx, "a", cache.Entry{Weather: models.Weather{Current: models.CurrentConditions{Temperature: 5}}, FetchedAt: time.Now().Add(-45 * time.Minute)}, 30*time.Minute)

	mc := &mockWeatherClient{err: client.ErrRateLimited}
	s := newTestService(mc, c)
	got := s.RefreshAllBatch(ctx, []models.TrackedLocation{located("a", "A", 1, 1), located("b", "B", 2, 2)}, false)

	if got[0].Weather == nil || !got[0].Weather.Stale || !got[0].Cached {
		t.Errorf("a = %+v, want stale weather", got[0])
	}
	if got[1].Error != MsgRateLimited {
		t.Errorf("b.Error = %q, want %q", got[1].Error, MsgRateLimited)
	}
}

// TestInvalidateAndClear verifies cache removal.
func TestInvalidateAndClear(t *testing.T) {
	ctx := context.Background()
	mc := &mockWeatherClient{}
	c := cache.NewInMemoryCache()
	s := newTestService(mc, c)
	a, b := located("a", "A", 1, 1), located("b", "B", 2, 2)
	_, _ = s.GetWeather(ctx, a)
	_, _ = s.GetWeather(ctx, b)

	if err := s.Invalidate(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("a still cached")
	}
	if err := s.ClearCache(ctx); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Errorf("cache has %d entries after ClearCache", c.Len())
	}

	broken := newTestService(mc, failingCache{})
	if err := broken.Invalidate(ctx, "a"); !errors.Is(err, errCacheDown) {
		t.Errorf("Invalidate() error = %v", err)
	}
}

// TestUserMessage verifies the text shown for each failure.
func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNoCoordinates, MsgNoCoordinates},
		{geocode.ErrCityNotFound, MsgCityNotFound},
		{fmt.Errorf("x: %w", client.ErrInvalidURL), MsgInvalidURL},
		{client.ErrDecode, MsgDecode},
		{fmt.Errorf("exhausted retries: %w", client.ErrRateLimited), MsgRateLimited},
		{client.ErrBadRequest, MsgBadRequest},
		{context.DeadlineExceeded, MsgServiceTimeout},
		{client.ErrCircuitOpen, MsgNetwork},
		{errors.New("boom"), MsgNetwork},
	}
	for _, tt := range tests {
		if got := UserMessage(tt.err); got != tt.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

// TestCategorizeCacheError verifies cache error labels.
func TestCategorizeCacheError(t *testing.T) {
	tests := map[string]error{
		"timeout":    errors.New("i/o timeout"),
		"connection": errCacheDown,
		"unknown":    errors.New("bad value"),
	}
	for want, err := range tests {
		if got := categorizeCacheError(err); got != want {
			t.Errorf("categorizeCacheError(%v) = %q, want %q", err, got, want)
		}
	}
	if got := categorizeCacheError(nil); got != "unknown" {
		t.Errorf("categorizeCacheError(nil) = %q", got)
	}
}
