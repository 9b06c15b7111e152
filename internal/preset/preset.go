package preset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// MaxForecastDays is the longest forecast Open-Meteo serves.
const MaxForecastDays = 16

var ErrInvalidForecastDays = errors.New("forecast_days must be between 1 and 16")

// WeatherPreset selects which Open-Meteo variables are requested.
type WeatherPreset struct {
	IncludeTemperature       bool `json:"include_temperature" yaml:"include_temperature"`
	IncludeFeelsLike         bool `json:"include_feels_like" yaml:"include_feels_like"`
	IncludeHumidity          bool `json:"include_humidity" yaml:"include_humidity"`
	IncludeWeatherCode       bool `json:"include_weather_code" yaml:"include_weather_code"`
	IncludeWindSpeed         bool `json:"include_wind_speed" yaml:"include_wind_speed"`
	IncludeWindDirection     bool `json:"include_wind_direction" yaml:"include_wind_direction"`
	IncludeWindGusts         bool `json:"include_wind_gusts" yaml:"include_wind_gusts"`
	IncludePrecipitation     bool `json:"include_precipitation" yaml:"include_precipitation"`
	IncludePrecipitationProb bool `json:"include_precipitation_prob" yaml:"include_precipitation_prob"`
	IncludeRain              bool `json:"include_rain" yaml:"include_rain"`
	IncludeSnow              bool `json:"include_snow" yaml:"include_snow"`
	IncludePressure          bool `json:"include_pressure" yaml:"include_pressure"`
	IncludeVisibility        bool `json:"include_visibility" yaml:"include_visibility"`
	IncludeCloudCover        bool `json:"include_cloud_cover" yaml:"include_cloud_cover"`
	IncludeUVIndex           bool `json:"include_uv_index" yaml:"include_uv_index"`
	IncludeDailyForecast     bool `json:"include_daily_forecast" yaml:"include_daily_forecast"`
	ForecastDays             int  `json:"forecast_days" yaml:"forecast_days"`
}

// Standard is the default preset.
func Standard() WeatherPreset {
	return WeatherPreset{
		IncludeTemperature:       true,
		IncludeFeelsLike:         true,
		IncludeHumidity:          true,
		IncludeWeatherCode:       true,
		IncludeWindSpeed:         true,
		IncludePrecipitation:     true,
		IncludePrecipitationProb: true,
		IncludeDailyForecast:     true,
		ForecastDays:             7,
	}
}

func Minimal() WeatherPreset {
	return WeatherPreset{
		IncludeTemperature:   true,
		IncludeWeatherCode:   true,
		IncludeDailyForecast: true,
		ForecastDays:         7,
	}
}

func Complete() WeatherPreset {
	return WeatherPreset{
		IncludeTemperature:       true,
		IncludeFeelsLike:         true,
		IncludeHumidity:          true,
		IncludeWeatherCode:       true,
		IncludeWindSpeed:         true,
		IncludeWindDirection:     true,
		IncludeWindGusts:         true,
		IncludePrecipitation:     true,
		IncludePrecipitationProb: true,
		IncludeRain:              true,
		IncludeSnow:              true,
		IncludePressure:          true,
		IncludeVisibility:        true,
		IncludeCloudCover:        true,
		IncludeUVIndex:           true,
		IncludeDailyForecast:     true,
		ForecastDays:             7,
	}
}

var named = map[string]func() WeatherPreset{
	"standard": Standard,
	"minimal":  Minimal,
	"complete": Complete,
}

// Lookup returns the named preset. Names are case-insensitive.
func Lookup(name string) (WeatherPreset, bool) {
	fn, ok := named[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return WeatherPreset{}, false
	}
	return fn(), true
}

// Names lists the named presets in display order.
func Names() []string {
	return []string{"standard", "minimal", "complete"}
}

// param pairs an Open-Meteo variable with the toggle that requests it.
type param struct {
	name    string
	enabled bool
}

func joinParams(params []param) string {
	names := make([]string, 0, len(params))
	for _, p := range params {
		if p.enabled {
			names = append(names, p.name)
		}
	}
	return strings.Join(names, ",")
}

// CurrentParameters returns the comma-separated "current" variables.
func (p WeatherPreset) CurrentParameters() string {
	return joinParams([]param{
		{"weather_code", p.IncludeWeatherCode},
		{"temperature_2m", p.IncludeTemperature},
		{"apparent_temperature", p.IncludeFeelsLike},
		{"relative_humidity_2m", p.IncludeHumidity},
		{"wind_speed_10m", p.IncludeWindSpeed},
		{"wind_direction_10m", p.IncludeWindDirection},
		{"wind_gusts_10m", p.IncludeWindGusts},
		{"precipitation", p.IncludePrecipitation},
		{"rain", p.IncludeRain},
		{"snowfall", p.IncludeSnow},
		{"surface_pressure", p.IncludePressure},
		{"visibility", p.IncludeVisibility},
		{"cloud_cover", p.IncludeCloudCover},
	})
}

// HourlyParameters returns the comma-separated "hourly" variables.
func (p WeatherPreset) HourlyParameters() string {
	return joinParams([]param{
		{"temperature_2m", p.IncludeTemperature},
		{"precipitation", p.IncludePrecipitation},
		{"precipitation_probability", p.IncludePrecipitationProb},
		{"rain", p.IncludeRain},
		{"snowfall", p.IncludeSnow},
		{"wind_speed_10m", p.IncludeWindSpeed},
		{"uv_index", p.IncludeUVIndex},
	})
}

// DailyParameters returns the comma-separated "daily" variables, or "" when the
// daily forecast is off. The code and temperature range are always part of a
// daily request.
func (p WeatherPreset) DailyParameters() string {
	if !p.IncludeDailyForecast {
		return ""
	}
	return joinParams([]param{
		{"weather_code", true},
		{"temperature_2m_max", true},
		{"temperature_2m_min", true},
		{"precipitation_probability_max", p.IncludePrecipitationProb},
		{"precipitation_sum", p.IncludePrecipitation},
		{"wind_speed_10m_max", p.IncludeWindSpeed},
		{"uv_index_max", p.IncludeUVIndex},
	})
}

// EnabledFeaturesDescription is the short human summary shown in settings.
func (p WeatherPreset) EnabledFeaturesDescription() string {
	var features []string
	if p.IncludeTemperature {
		features = append(features, "Temperature")
	}
	if p.IncludeFeelsLike {
		features = append(features, "Feels Like")
	}
	if p.IncludeHumidity {
		features = append(features, "Humidity")
	}
	if p.IncludeWindSpeed {
		features = append(features, "Wind")
	}
	if p.IncludePrecipitation || p.IncludePrecipitationProb {
		features = append(features, "Precipitation")
	}
	if p.IncludePressure {
		features = append(features, "Pressure")
	}
	if p.IncludeVisibility {
		features = append(features, "Visibility")
	}
	if p.IncludeUVIndex {
		features = append(features, "UV Index")
	}
	if len(features) == 0 {
		return "Minimal"
	}
	return strings.Join(features, ", ")
}

// EnabledCount counts the optional data toggles that are on. Weather code and
// the daily forecast switch are not counted.
func (p WeatherPreset) EnabledCount() int {
	n := 0
	for _, on := range []bool{
		p.IncludeTemperature, p.IncludeFeelsLike, p.IncludeHumidity,
		p.IncludeWindSpeed, p.IncludeWindDirection, p.IncludeWindGusts,
		p.IncludePrecipitation, p.IncludePrecipitationProb, p.IncludeRain,
		p.IncludeSnow, p.IncludePressure, p.IncludeVisibility,
		p.IncludeCloudCover, p.IncludeUVIndex,
	} {
		if on {
			n++
		}
	}
	return n
}

func (p WeatherPreset) Validate() error {
	if p.ForecastDays < 1 || p.ForecastDays > MaxForecastDays {
		return fmt.Errorf("%w: got %d", ErrInvalidForecastDays, p.ForecastDays)
	}
	return nil
}

// Fingerprint identifies the request the preset produces. Two presets with the
// same fingerprint ask Open-Meteo for the same data.
func (p WeatherPreset) Fingerprint() string {
	key := p.CurrentParameters() + "|" + p.HourlyParameters() + "|" + p.DailyParameters() + "|" + strconv.Itoa(p.ForecastDays)
	return strconv.FormatUint(xxhash.Sum64String(key), 16)
}
