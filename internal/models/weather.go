package models

import "time"

// WeatherCondition is the coarse condition derived from a WMO weather code.
type WeatherCondition string

const (
	ConditionClear        WeatherCondition = "clear"
	ConditionClouds       WeatherCondition = "clouds"
	ConditionDrizzle      WeatherCondition = "drizzle"
	ConditionRain         WeatherCondition = "rain"
	ConditionSnow         WeatherCondition = "snow"
	ConditionThunderstorm WeatherCondition = "thunderstorm"
)

// Emoji returns the icon shown next to the condition.
func (c WeatherCondition) Emoji() string {
	switch c {
	case ConditionClear:
		return "☀️"
	case ConditionClouds:
		return "☁️"
	case ConditionDrizzle, ConditionRain:
		return "🌧️"
	case ConditionSnow:
		return "❄️"
	case ConditionThunderstorm:
		return "⚡"
	default:
		return "🌤️"
	}
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// CurrentConditions holds the "current" block. Fields the active preset did not
// request stay zero.
type CurrentConditions struct {
	Time          string           `json:"time,omitempty"`
	Temperature   float64          `json:"temperature"`
	FeelsLike     float64          `json:"feels_like"`
	Humidity      int              `json:"humidity"`
	WeatherCode   int              `json:"weather_code"`
	Condition     WeatherCondition `json:"condition"`
	WindSpeed     float64          `json:"wind_speed"`
	WindDirection float64          `json:"wind_direction"`
	WindGusts     float64          `json:"wind_gusts"`
	Precipitation float64          `json:"precipitation"`
	Rain          float64          `json:"rain"`
	Snowfall      float64          `json:"snowfall"`
	Pressure      float64          `json:"pressure"`
	Visibility    float64          `json:"visibility"`
	CloudCover    int              `json:"cloud_cover"`
}

type DayWeather struct {
	Date                     string  `json:"date"`
	DayName                  string  `json:"day_name"`
	TempMax                  float64 `json:"temp_max"`
	TempMin                  float64 `json:"temp_min"`
	PrecipitationSum         float64 `json:"precipitation_sum"`
	PrecipitationProbability int     `json:"precipitation_probability"`
	WindSpeedMax             float64 `json:"wind_speed_max"`
	UVIndexMax               float64 `json:"uv_index_max"`
	WeatherCode              int     `json:"weather_code"`
	Condition                string  `json:"condition"`
}

type HourlyWeather struct {
	Time                     string  `json:"time"`
	Temperature              float64 `json:"temperature"`
	Precipitation            float64 `json:"precipitation"`
	PrecipitationProbability int     `json:"precipitation_probability"`
	Rain                     float64 `json:"rain"`
	Snowfall                 float64 `json:"snowfall"`
	WindSpeed                float64 `json:"wind_speed"`
	UVIndex                  float64 `json:"uv_index"`
}

type Weather struct {
	Location     string            `json:"location"`
	Coordinates  Coordinates       `json:"coordinates"`
	Timezone     string            `json:"timezone"`
	Current      CurrentConditions `json:"current"`
	Today        DayWeather        `json:"today"`
	WeekForecast []DayWeather      `json:"week_forecast"`
	Hourly       []HourlyWeather   `json:"hourly,omitempty"`
	SummaryText  string            `json:"summary_text"`
	FetchedAt    time.Time         `json:"fetched_at"`
	Stale        bool              `json:"stale,omitempty"` // served from expired cache after an upstream failure
}
