package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/kjstillabower/daily-brief/internal/backend"
	"github.com/kjstillabower/daily-brief/internal/client"
	"github.com/kjstillabower/daily-brief/internal/countdown"
	"github.com/kjstillabower/daily-brief/internal/geocode"
	"github.com/kjstillabower/daily-brief/internal/gps"
	"github.com/kjstillabower/daily-brief/internal/locations"
	"github.com/kjstillabower/daily-brief/internal/preset"
	"github.com/kjstillabower/daily-brief/internal/service"
	"github.com/kjstillabower/daily-brief/internal/validation"
)

const (
	msgInternal            = "Something went wrong. Please try again."
	msgDuplicateLocation   = "This location is already in your list."
	msgLocationNotFound    = "Location not found."
	msgCannotDeleteCurrent = "The current location cannot be removed."
	msgCountdownNotFound   = "Countdown not found."
	msgLoginAgain          = "Please login again."
	msgAccountRateLimited  = "Too many requests. Please try again later."
)

// classifyError returns the HTTP status, stable error code and user-facing
// message for err. Unknown errors are 500 with a generic message.
func classifyError(err error) (int, string, string) {
	var locLimit *locations.LimitError
	var cdLimit *countdown.LimitError
	var serverErr *backend.ServerError

	switch {
	case errors.As(err, &locLimit):
		return http.StatusConflict, "LIMIT_REACHED", locLimit.Error()
	case errors.As(err, &cdLimit):
		return http.StatusConflict, "LIMIT_REACHED", cdLimit.Error()
	case errors.Is(err, locations.ErrDuplicateLocation):
		return http.StatusConflict, "DUPLICATE_LOCATION", msgDuplicateLocation
	case errors.Is(err, locations.ErrNotFound):
		return http.StatusNotFound, "LOCATION_NOT_FOUND", msgLocationNotFound
	case errors.Is(err, locations.ErrCannotDeleteCurrent):
		return http.StatusBadRequest, "CANNOT_DELETE_CURRENT", msgCannotDeleteCurrent
	case errors.Is(err, countdown.ErrNotFound):
		return http.StatusNotFound, "COUNTDOWN_NOT_FOUND", msgCountdownNotFound
	case errors.Is(err, countdown.ErrNameRequired), errors.Is(err, countdown.ErrInvalidDate):
		return http.StatusBadRequest, "INVALID_COUNTDOWN", err.Error()

	case errors.Is(err, locations.ErrEmptyName), errors.Is(err, geocode.ErrEmptyName),
		errors.Is(err, validation.ErrCityEmpty), errors.Is(err, validation.ErrCityTooShort),
		errors.Is(err, validation.ErrCityTooLong), errors.Is(err, validation.ErrCityInvalidChars):
		return http.StatusBadRequest, "INVALID_CITY", err.Error()
	case errors.Is(err, validation.ErrLatitudeRange), errors.Is(err, validation.ErrLongitudeRange),
		errors.Is(err, validation.ErrAccuracy):
		return http.StatusBadRequest, "INVALID_COORDINATES", err.Error()
	case errors.Is(err, gps.ErrUnknownStatus):
		return http.StatusBadRequest, "INVALID_STATUS", err.Error()
	case errors.Is(err, geocode.ErrCityNotFound):
		return http.StatusNotFound, "CITY_NOT_FOUND", service.MsgCityNotFound

	case errors.Is(err, preset.ErrUnknownPreset):
		return http.StatusNotFound, "UNKNOWN_PRESET", err.Error()
	case errors.Is(err, preset.ErrInvalidForecastDays):
		return http.StatusBadRequest, "INVALID_PRESET", preset.ErrInvalidForecastDays.Error()

	case errors.Is(err, service.ErrNoCoordinates):
		return http.StatusConflict, "NO_COORDINATES", service.MsgNoCoordinates

	case errors.Is(err, backend.ErrNotConfigured):
		return http.StatusNotImplemented, "BACKEND_NOT_CONFIGURED", "Account features are not configured."
	case errors.Is(err, backend.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", msgLoginAgain
	case errors.Is(err, backend.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", msgAccountRateLimited
	case errors.As(err, &serverErr):
		return http.StatusBadGateway, "BACKEND_ERROR", serverErr.Message
	case errors.Is(err, backend.ErrNetwork), errors.Is(err, backend.ErrDecode), errors.Is(err, backend.ErrInvalidURL):
		return http.StatusBadGateway, "BACKEND_UNAVAILABLE", "Unable to reach your account. Please try again."

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", service.MsgServiceTimeout
	case errors.Is(err, client.ErrNetwork), errors.Is(err, client.ErrDecode),
		errors.Is(err, client.ErrRateLimited), errors.Is(err, client.ErrBadRequest),
		errors.Is(err, client.ErrUpstreamFailure), errors.Is(err, client.ErrCircuitOpen),
		errors.Is(err, client.ErrInvalidURL), errors.Is(err, geocode.ErrLookup):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", service.UserMessage(err)
	}
	return http.StatusInternalServerError, "INTERNAL", msgInternal
}
