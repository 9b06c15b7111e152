package http

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/daily-brief/internal/cache"
	"github.com/kjstillabower/daily-brief/internal/gps"
	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/preset"
	"github.com/kjstillabower/daily-brief/internal/validation"
)

const (
	ModeParallel = "parallel"
	ModeBatch    = "batch"
)

type weatherList struct {
	Mode      string                   `json:"mode"`
	Locations []models.LocationWeather `json:"locations"`
	FetchedAt time.Time                `json:"fetched_at"`
}

// parseRefresh reads the optional refresh flag.
func parseRefresh(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("refresh")
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

// GetAllWeather handles GET /weather. mode picks one request per location or
// bulk requests; refresh=true bypasses fresh cache entries.
func (h *Handler) GetAllWeather(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = h.refreshMode
	}
	if mode != ModeParallel && mode != ModeBatch {
		writeError(w, r, http.StatusBadRequest, "INVALID_MODE", "mode must be parallel or batch")
		return
	}
	force, err := parseRefresh(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "refresh must be true or false")
		return
	}

	locs := h.locations.List()
	var results []models.LocationWeather
	if mode == ModeBatch {
		results = h.weather.RefreshAllBatch(r.Context(), locs, force)
	} else {
		results = h.weather.RefreshAll(r.Context(), locs, force)
	}
	if err := r.Context().Err(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weatherList{Mode: mode, Locations: results, FetchedAt: h.now().UTC()})
}

// GetLocationWeather handles GET /weather/{id}.
func (h *Handler) GetLocationWeather(w http.ResponseWriter, r *http.Request) {
	force, err := parseRefresh(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "refresh must be true or false")
		return
	}
	loc, err := h.locations.Get(mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	result, err := h.weather.GetLocationWeather(r.Context(), loc, force)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetCityWeather handles GET /weather/city/{city} for places that are not tracked.
func (h *Handler) GetCityWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], validation.CityMinLen, validation.CityMaxLen)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	result, err := h.weather.GetWeatherForCity(r.Context(), city)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ClearWeatherCache handles DELETE /weather/cache.
func (h *Handler) ClearWeatherCache(w http.ResponseWriter, r *http.Request) {
	if err := h.weather.ClearCache(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exportCacheEntry struct {
	Key         string    `json:"key"`
	Location    string    `json:"location"`
	FetchedAt   time.Time `json:"fetched_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	AgeSeconds  int64     `json:"age_seconds"`
	Fresh       bool      `json:"fresh"`
	Fingerprint string    `json:"fingerprint"`
}

type exportDump struct {
	ExportedAt     time.Time                `json:"exported_at"`
	Preset         preset.WeatherPreset     `json:"preset"`
	Locations      []models.TrackedLocation `json:"locations"`
	Countdowns     []models.Countdown       `json:"countdowns"`
	Cache          []exportCacheEntry       `json:"cache"`
	LocationStatus gps.State                `json:"location_status"`
	Authenticated  bool                     `json:"authenticated"`
}

// exportRetention is long enough to list every retained cache entry.
const exportRetention = 365 * 24 * time.Hour

// Export handles GET /export, a dump of everything the service holds.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	dump := exportDump{
		ExportedAt:     now.UTC(),
		Preset:         h.presets.Get(),
		Locations:      h.locations.List(),
		Countdowns:     h.countdowns.List(now),
		Cache:          h.cacheEntries(r, now),
		LocationStatus: h.gps.Status(),
		Authenticated:  h.account != nil && h.account.IsAuthenticated(),
	}
	w.Header().Set("Content-Disposition", `attachment; filename="daily-brief-export.json"`)
	writeJSON(w, http.StatusOK, dump)
}

// cacheEntries lists the cache contents. The in-memory backend is copied
// directly; memcached only knows the keys this process wrote.
func (h *Handler) cacheEntries(r *http.Request, now time.Time) []exportCacheEntry {
	entries := map[string]cache.Entry{}
	switch c := h.cache.(type) {
	case interface{ Snapshot() map[string]cache.Entry }:
		entries = c.Snapshot()
	case interface{ Keys() []string }:
		for _, k := range c.Keys() {
			if e, ok, err := h.cache.GetStale(r.Context(), k, exportRetention); err == nil && ok {
				entries[k] = e
			}
		}
	}

	out := make([]exportCacheEntry, 0, len(entries))
	for k, e := range entries {
		out = append(out, exportCacheEntry{
			Key:         k,
			Location:    e.Weather.Location,
			FetchedAt:   e.FetchedAt,
			ExpiresAt:   e.ExpiresAt,
			AgeSeconds:  int64(e.Age(now).Seconds()),
			Fresh:       e.Fresh(now),
			Fingerprint: e.Fingerprint,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
