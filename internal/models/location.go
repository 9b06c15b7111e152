package models

import (
	"strings"
	"time"
)

// CurrentLocationName is the display name of the GPS entry before a fix names it.
const CurrentLocationName = "Current Location"

// TrackedLocation is a user-saved place, or the device's own GPS position when
// IsCurrentLocation is set.
type TrackedLocation struct {
	ID                string    `json:"id"`
	CityName          string    `json:"city_name"`
	Latitude          *float64  `json:"latitude,omitempty"`
	Longitude         *float64  `json:"longitude,omitempty"`
	IsCurrentLocation bool      `json:"is_current_location"`
	IsSelectedForHome bool      `json:"is_selected_for_home"`
	DateAdded         time.Time `json:"date_added"`
}

// HasCoordinates reports whether weather can be fetched for the location.
func (l TrackedLocation) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Coordinates returns the location's position. Callers check HasCoordinates first.
func (l TrackedLocation) Coordinates() Coordinates {
	if !l.HasCoordinates() {
		return Coordinates{}
	}
	return Coordinates{Lat: *l.Latitude, Lon: *l.Longitude}
}

func (l TrackedLocation) DisplayName() string {
	if l.IsCurrentLocation && (l.CityName == "" || !l.HasCoordinates()) {
		return CurrentLocationName
	}
	return l.CityName
}

// SameAs is the duplicate check used by the location store. Two GPS entries are
// always the same; two manual entries match on case-insensitive city name; a
// manual city never matches the GPS entry.
func (l TrackedLocation) SameAs(other TrackedLocation) bool {
	if l.IsCurrentLocation && other.IsCurrentLocation {
		return true
	}
	if !l.IsCurrentLocation && !other.IsCurrentLocation {
		return strings.EqualFold(strings.TrimSpace(l.CityName), strings.TrimSpace(other.CityName))
	}
	return false
}

// LocationWeather pairs a tracked location with its weather or the reason it has none.
type LocationWeather struct {
	Location TrackedLocation `json:"location"`
	Weather  *Weather        `json:"weather,omitempty"`
	Error    string          `json:"error,omitempty"`
	Cached   bool            `json:"cached"`
}

// DisplayName prefers the weather's resolved name for the GPS entry.
func (lw LocationWeather) DisplayName() string {
	if lw.Location.IsCurrentLocation && lw.Weather != nil && lw.Weather.Location != "" {
		return lw.Weather.Location
	}
	return lw.Location.DisplayName()
}
