package service

import (
	"context"
	"errors"

	"github.com/kjstillabower/daily-brief/internal/client"
	"github.com/kjstillabower/daily-brief/internal/geocode"
)

const (
	MsgInvalidURL     = "Invalid URL. Please check your configuration."
	MsgNetwork        = "Network error. Please check your connection."
	MsgDecode         = "Failed to parse weather data."
	MsgRateLimited    = "Too many requests. Please try again later."
	MsgNoCoordinates  = "Location not available yet."
	MsgBadRequest     = "The weather service rejected the request."
	MsgServiceTimeout = "The weather service took too long to respond."
	MsgCityNotFound   = "City not found. Please check the spelling."
)

// UserMessage turns a lookup error into the text shown next to a location.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCoordinates):
		return MsgNoCoordinates
	case errors.Is(err, geocode.ErrCityNotFound):
		return MsgCityNotFound
	case errors.Is(err, client.ErrInvalidURL):
		return MsgInvalidURL
	case errors.Is(err, client.ErrDecode):
		return MsgDecode
	case errors.Is(err, client.ErrRateLimited):
		return MsgRateLimited
	case errors.Is(err, client.ErrBadRequest):
		return MsgBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return MsgServiceTimeout
	default:
		return MsgNetwork
	}
}
