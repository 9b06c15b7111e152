package validation

import (
	"errors"
	"math"
	"strings"
	"unicode"
)

// City name bounds in runes.
const (
	CityMinLen = 1
	CityMaxLen = 100
)

// ErrCityEmpty is returned when the name is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city name is required")

var ErrCityTooShort = errors.New("city name too short")

var ErrCityTooLong = errors.New("city name too long")

// ErrCityInvalidChars is returned when the name contains disallowed characters.
var ErrCityInvalidChars = errors.New("city name contains invalid characters")

var (
	ErrLatitudeRange  = errors.New("latitude must be between -90 and 90")
	ErrLongitudeRange = errors.New("longitude must be between -180 and 180")
	ErrAccuracy       = errors.New("accuracy must be zero or positive")
)

// ValidateCity trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to letters (Unicode), digits, space, comma, hyphen, period and
// apostrophe. Returns the trimmed string or an error suitable for 400
// INVALID_CITY responses. Casing is left to the location store.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrCityTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'', '’':
		return true
	}
	return false
}

// ValidateCoordinates checks WGS84 bounds. NaN and infinities are rejected.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return ErrLatitudeRange
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return ErrLongitudeRange
	}
	return nil
}

// ValidateAccuracy accepts a GPS horizontal accuracy in meters.
func ValidateAccuracy(meters float64) error {
	if math.IsNaN(meters) || math.IsInf(meters, 0) || meters < 0 {
		return ErrAccuracy
	}
	return nil
}
