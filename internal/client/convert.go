package client

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kjstillabower/daily-brief/internal/models"
)

// hourlyWindow is how many hourly entries are kept, starting at the current hour.
const hourlyWindow = 24

// forecastResponse is one location of an Open-Meteo forecast. Variables the
// request did not ask for are absent; nulls inside arrays decode to zero.
type forecastResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
	Current   *struct {
		Time                string  `json:"time"`
		Temperature2m       float64 `json:"temperature_2m"`
		ApparentTemperature float64 `json:"apparent_temperature"`
		RelativeHumidity2m  float64 `json:"relative_humidity_2m"`
		WeatherCode         float64 `json:"weather_code"`
		WindSpeed10m        float64 `json:"wind_speed_10m"`
		WindDirection10m    float64 `json:"wind_direction_10m"`
		WindGusts10m        float64 `json:"wind_gusts_10m"`
		Precipitation       float64 `json:"precipitation"`
		Rain                float64 `json:"rain"`
		Snowfall            float64 `json:"snowfall"`
		SurfacePressure     float64 `json:"surface_pressure"`
		Visibility          float64 `json:"visibility"`
		CloudCover          float64 `json:"cloud_cover"`
	} `json:"current"`
	Hourly *struct {
		Time                     []string  `json:"time"`
		Temperature2m            []float64 `json:"temperature_2m"`
		Precipitation            []float64 `json:"precipitation"`
		PrecipitationProbability []float64 `json:"precipitation_probability"`
		Rain                     []float64 `json:"rain"`
		Snowfall                 []float64 `json:"snowfall"`
		WindSpeed10m             []float64 `json:"wind_speed_10m"`
		UVIndex                  []float64 `json:"uv_index"`
	} `json:"hourly"`
	Daily *struct {
		Time                        []string  `json:"time"`
		WeatherCode                 []float64 `json:"weather_code"`
		Temperature2mMax            []float64 `json:"temperature_2m_max"`
		Temperature2mMin            []float64 `json:"temperature_2m_min"`
		PrecipitationProbabilityMax []float64 `json:"precipitation_probability_max"`
		PrecipitationSum            []float64 `json:"precipitation_sum"`
		WindSpeed10mMax             []float64 `json:"wind_speed_10m_max"`
		UVIndexMax                  []float64 `json:"uv_index_max"`
	} `json:"daily"`
}

// apiError is the body Open-Meteo sends with HTTP 400.
type apiError struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// at returns values[i], or 0 when the array is missing or short.
func at(values []float64, i int) float64 {
	if i < 0 || i >= len(values) {
		return 0
	}
	return values[i]
}

func atInt(values []float64, i int) int {
	return int(math.Round(at(values, i)))
}

// ConditionForCode maps a WMO weather interpretation code to a condition.
// Unknown codes read as clear.
func ConditionForCode(code int) models.WeatherCondition {
	switch {
	case code == 0:
		return models.ConditionClear
	case code >= 1 && code <= 3, code == 45, code == 48:
		return models.ConditionClouds
	case code >= 51 && code <= 57:
		return models.ConditionDrizzle
	case code >= 61 && code <= 67, code >= 80 && code <= 82:
		return models.ConditionRain
	case code >= 71 && code <= 77, code == 85, code == 86:
		return models.ConditionSnow
	case code >= 95 && code <= 99:
		return models.ConditionThunderstorm
	default:
		return models.ConditionClear
	}
}

// dayName returns the English weekday for an ISO date, or "" if it does not parse.
func dayName(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return ""
	}
	return t.Weekday().String()
}

// convert turns one decoded response into the domain model. forecastDays caps
// the number of days kept.
func convert(resp forecastResponse, coords models.Coordinates, forecastDays int, fetchedAt time.Time) models.Weather {
	w := models.Weather{
		Coordinates:  coords,
		Timezone:     resp.Timezone,
		WeekForecast: []models.DayWeather{},
		FetchedAt:    fetchedAt,
	}

	if c := resp.Current; c != nil {
		code := int(math.Round(c.WeatherCode))
		w.Current = models.CurrentConditions{
			Time:          c.Time,
			Temperature:   c.Temperature2m,
			FeelsLike:     c.ApparentTemperature,
			Humidity:      int(math.Round(c.RelativeHumidity2m)),
			WeatherCode:   code,
			Condition:     ConditionForCode(code),
			WindSpeed:     c.WindSpeed10m,
			WindDirection: c.WindDirection10m,
			WindGusts:     c.WindGusts10m,
			Precipitation: c.Precipitation,
			Rain:          c.Rain,
			Snowfall:      c.Snowfall,
			Pressure:      c.SurfacePressure,
			Visibility:    c.Visibility,
			CloudCover:    int(math.Round(c.CloudCover)),
		}
	} else {
		w.Current.Condition = models.ConditionClear
	}

	if d := resp.Daily; d != nil {
		days := len(d.Time)
		if forecastDays > 0 && forecastDays < days {
			days = forecastDays
		}
		for i := 0; i < days; i++ {
			code := atInt(d.WeatherCode, i)
			w.WeekForecast = append(w.WeekForecast, models.DayWeather{
				Date:                     d.Time[i],
				DayName:                  dayName(d.Time[i]),
				TempMax:                  at(d.Temperature2mMax, i),
				TempMin:                  at(d.Temperature2mMin, i),
				PrecipitationSum:         at(d.PrecipitationSum, i),
				PrecipitationProbability: atInt(d.PrecipitationProbabilityMax, i),
				WindSpeedMax:             at(d.WindSpeed10mMax, i),
				UVIndexMax:               at(d.UVIndexMax, i),
				WeatherCode:              code,
				Condition:                string(ConditionForCode(code)),
			})
		}
	}

	if len(w.WeekForecast) > 0 {
		w.Today = w.WeekForecast[0]
	} else {
		w.Today = models.DayWeather{
			TempMax:      w.Current.Temperature,
			TempMin:      w.Current.Temperature,
			WindSpeedMax: w.Current.WindSpeed,
			WeatherCode:  w.Current.WeatherCode,
			Condition:    string(w.Current.Condition),
		}
		if len(w.Current.Time) >= 10 {
			w.Today.Date = w.Current.Time[:10]
			w.Today.DayName = dayName(w.Today.Date)
		}
	}

	if h := resp.Hourly; h != nil {
		start := hourlyStart(h.Time, w.Current.Time)
		for i := start; i < len(h.Time) && i < start+hourlyWindow; i++ {
			w.Hourly = append(w.Hourly, models.HourlyWeather{
				Time:                     h.Time[i],
				Temperature:              at(h.Temperature2m, i),
				Precipitation:            at(h.Precipitation, i),
				PrecipitationProbability: atInt(h.PrecipitationProbability, i),
				Rain:                     at(h.Rain, i),
				Snowfall:                 at(h.Snowfall, i),
				WindSpeed:                at(h.WindSpeed10m, i),
				UVIndex:                  at(h.UVIndex, i),
			})
		}
	}

	w.SummaryText = summarize(w, resp.Current != nil)
	return w
}

// hourlyStart finds the entry for the current hour. Open-Meteo times are local
// ISO strings ("2026-03-01T14:00") so they compare lexically.
func hourlyStart(times []string, current string) int {
	if len(current) < 13 {
		return 0
	}
	hour := current[:13]
	for i, t := range times {
		if len(t) >= 13 && t[:13] >= hour {
			return i
		}
	}
	return len(times)
}

func summarize(w models.Weather, hasCurrent bool) string {
	var parts []string
	if hasCurrent {
		parts = append(parts, fmt.Sprintf("%s, %.0f°C", cases.Title(language.English).String(string(w.Current.Condition)), w.Current.Temperature))
		if w.Current.FeelsLike != 0 && math.Abs(w.Current.FeelsLike-w.Current.Temperature) >= 1 {
			parts[0] += fmt.Sprintf(" (feels like %.0f°C)", w.Current.FeelsLike)
		}
	}
	if len(w.WeekForecast) > 0 {
		parts = append(parts, fmt.Sprintf("High %.0f°C, low %.0f°C", w.Today.TempMax, w.Today.TempMin))
		if w.Today.PrecipitationProbability > 0 {
			parts = append(parts, fmt.Sprintf("%d%% chance of precipitation", w.Today.PrecipitationProbability))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ". ") + "."
}
