package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// FakeOpenMeteo serves the forecast, geocoding and reverse geocoding endpoints
// from one httptest server. Forecast current temperature echoes the requested
// latitude so callers can tell batch results apart.
type FakeOpenMeteo struct {
	Server *httptest.Server

	ForecastCalls atomic.Int64
	SearchCalls   atomic.Int64
	ReverseCalls  atomic.Int64

	mu          sync.Mutex
	status      int
	delay       time.Duration
	lastQueries []string
	places      map[string]Place
	localities  map[string]string
}

// Place is a canned forward geocoding result.
type Place struct {
	Name      string
	Country   string
	Latitude  float64
	Longitude float64
}

// StartDate is the first day of every fake daily forecast.
const StartDate = "2026-03-02"

func NewFakeOpenMeteo(t testing.TB) *FakeOpenMeteo {
	t.Helper()
	f := &FakeOpenMeteo{
		places:     make(map[string]Place),
		localities: make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/forecast", f.forecast)
	mux.HandleFunc("/v1/search", f.search)
	mux.HandleFunc("/reverse", f.reverse)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeOpenMeteo) ForecastURL() string { return f.Server.URL + "/v1/forecast" }
func (f *FakeOpenMeteo) SearchURL() string   { return f.Server.URL + "/v1/search" }
func (f *FakeOpenMeteo) ReverseURL() string  { return f.Server.URL + "/reverse" }

// FailWith makes every forecast call answer with status. 0 restores success.
func (f *FakeOpenMeteo) FailWith(status int) {
	f.mu.Lock()
	f.status = status
	f.mu.Unlock()
}

// SetDelay slows every forecast response.
func (f *FakeOpenMeteo) SetDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

// AddPlace registers a city for forward geocoding (matched case-insensitively).
func (f *FakeOpenMeteo) AddPlace(p Place) {
	f.mu.Lock()
	f.places[strings.ToLower(p.Name)] = p
	f.mu.Unlock()
}

// AddLocality registers the locality returned for rounded coordinates.
func (f *FakeOpenMeteo) AddLocality(lat, lon float64, city string) {
	f.mu.Lock()
	f.localities[coordKey(lat, lon)] = city
	f.mu.Unlock()
}

// LastQueries returns the raw query strings of forecast calls, oldest first.
func (f *FakeOpenMeteo) LastQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lastQueries...)
}

func coordKey(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 2, 64) + "," + strconv.FormatFloat(lon, 'f', 2, 64)
}

func (f *FakeOpenMeteo) forecast(w http.ResponseWriter, r *http.Request) {
	f.ForecastCalls.Add(1)
	f.mu.Lock()
	status, delay := f.status, f.delay
	f.lastQueries = append(f.lastQueries, r.URL.RawQuery)
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		w.WriteHeader(status)
		if status == http.StatusBadRequest {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": true, "reason": "Latitude must be in range of -90 to 90°."})
		}
		return
	}

	q := r.URL.Query()
	lats := strings.Split(q.Get("latitude"), ",")
	lons := strings.Split(q.Get("longitude"), ",")
	days, _ := strconv.Atoi(q.Get("forecast_days"))
	if days <= 0 {
		days = 7
	}
	if len(lats) != len(lons) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": true, "reason": "Parameter count mismatch"})
		return
	}

	results := make([]map[string]any, 0, len(lats))
	for i := range lats {
		lat, _ := strconv.ParseFloat(lats[i], 64)
		lon, _ := strconv.ParseFloat(lons[i], 64)
		results = append(results, ForecastPayload(lat, lon, days, q.Get("current") != "", q.Get("daily") != "", q.Get("hourly") != ""))
	}

	w.Header().Set("Content-Type", "application/json")
	if len(results) == 1 {
		_ = json.NewEncoder(w).Encode(results[0])
		return
	}
	_ = json.NewEncoder(w).Encode(results)
}

// ForecastPayload builds an Open-Meteo style body for one location.
func ForecastPayload(lat, lon float64, days int, current, daily, hourly bool) map[string]any {
	out := map[string]any{
		"latitude":  lat,
		"longitude": lon,
		"timezone":  "Europe/Bratislava",
	}
	if current {
		out["current"] = map[string]any{
			"time":                 "2026-03-02T14:15",
			"temperature_2m":       lat,
			"apparent_temperature": lat - 2,
			"relative_humidity_2m": 60,
			"weather_code":         3,
			"wind_speed_10m":       12.5,
			"precipitation":        0.1,
		}
	}
	if daily {
		start, _ := time.Parse("2006-01-02", StartDate)
		dates := make([]string, days)
		codes := make([]int, days)
		maxes := make([]float64, days)
		mins := make([]float64, days)
		probs := make([]int, days)
		for d := 0; d < days; d++ {
			dates[d] = start.AddDate(0, 0, d).Format("2006-01-02")
			codes[d] = 61
			maxes[d] = lat + 3
			mins[d] = lat - 5
			probs[d] = 40
		}
		out["daily"] = map[string]any{
			"time":                          dates,
			"weather_code":                  codes,
			"temperature_2m_max":            maxes,
			"temperature_2m_min":            mins,
			"precipitation_probability_max": probs,
		}
	}
	if hourly {
		start, _ := time.Parse("2006-01-02T15:04", StartDate+"T00:00")
		n := days * 24
		times := make([]string, n)
		temps := make([]float64, n)
		for h := 0; h < n; h++ {
			times[h] = start.Add(time.Duration(h) * time.Hour).Format("2006-01-02T15:04")
			temps[h] = lat
		}
		out["hourly"] = map[string]any{"time": times, "temperature_2m": temps}
	}
	return out
}

func (f *FakeOpenMeteo) search(w http.ResponseWriter, r *http.Request) {
	f.SearchCalls.Add(1)
	name := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("name")))
	f.mu.Lock()
	p, ok := f.places[name]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]any{"generationtime_ms": 0.5})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"results": []map[string]any{{
			"name":      p.Name,
			"country":   p.Country,
			"latitude":  p.Latitude,
			"longitude": p.Longitude,
			"timezone":  "Europe/Bratislava",
		}},
	})
}

func (f *FakeOpenMeteo) reverse(w http.ResponseWriter, r *http.Request) {
	f.ReverseCalls.Add(1)
	q := r.URL.Query()
	lat, _ := strconv.ParseFloat(q.Get("lat"), 64)
	lon, _ := strconv.ParseFloat(q.Get("lon"), 64)
	f.mu.Lock()
	city, ok := f.localities[coordKey(lat, lon)]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "Unable to geocode"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"display_name": city,
		"address":      map[string]any{"town": city, "country": "Slovakia"},
	})
}
