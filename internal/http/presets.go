package http

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/daily-brief/internal/preset"
)

type namedPreset struct {
	Name         string               `json:"name"`
	Preset       preset.WeatherPreset `json:"preset"`
	Description  string               `json:"description"`
	EnabledCount int                  `json:"enabled_count"`
}

// ListPresets handles GET /presets.
func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	names := preset.Names()
	out := make([]namedPreset, 0, len(names))
	for _, name := range names {
		p, _ := preset.Lookup(name)
		out = append(out, namedPreset{
			Name:         name,
			Preset:       p,
			Description:  p.EnabledFeaturesDescription(),
			EnabledCount: p.EnabledCount(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"presets": out})
}

// GetPreset handles GET /preset.
func (h *Handler) GetPreset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.presets.Get())
}

// PutPreset handles PUT /preset. Cached forecasts fetched with another preset
// stop matching and are refetched on the next read.
func (h *Handler) PutPreset(w http.ResponseWriter, r *http.Request) {
	var p preset.WeatherPreset
	if err := decodeJSON(r, &p); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := h.presets.Save(r.Context(), p); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// LoadPreset handles POST /preset/load/{name}.
func (h *Handler) LoadPreset(w http.ResponseWriter, r *http.Request) {
	p, err := h.presets.LoadPreset(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ResetPreset handles POST /preset/reset.
func (h *Handler) ResetPreset(w http.ResponseWriter, r *http.Request) {
	p, err := h.presets.ResetToDefault(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Params is the query a preset produces.
type Params struct {
	Current      string `json:"current"`
	Hourly       string `json:"hourly"`
	Daily        string `json:"daily"`
	ForecastDays int    `json:"forecast_days"`
	Description  string `json:"description"`
	EnabledCount int    `json:"enabled_count"`
	Fingerprint  string `json:"fingerprint"`
}

func ParamsFor(p preset.WeatherPreset) Params {
	return Params{
		Current:      p.CurrentParameters(),
		Hourly:       p.HourlyParameters(),
		Daily:        p.DailyParameters(),
		ForecastDays: p.ForecastDays,
		Description:  p.EnabledFeaturesDescription(),
		EnabledCount: p.EnabledCount(),
		Fingerprint:  p.Fingerprint(),
	}
}

// GetPresetParams handles GET /preset/params. name inspects a named preset
// without activating it.
func (h *Handler) GetPresetParams(w http.ResponseWriter, r *http.Request) {
	p := h.presets.Get()
	if name := r.URL.Query().Get("name"); name != "" {
		named, ok := preset.Lookup(name)
		if !ok {
			writeServiceError(w, r, fmt.Errorf("%w: %q", preset.ErrUnknownPreset, name))
			return
		}
		p = named
	}
	writeJSON(w, http.StatusOK, ParamsFor(p))
}
