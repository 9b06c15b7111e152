// Package geocode resolves city names to coordinates (Open-Meteo geocoding)
// and coordinates to locality names (Nominatim).
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/observability"
)

const (
	DefaultSearchURL  = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultReverseURL = "https://nominatim.openstreetmap.org/reverse"

	// UnknownLocation is returned by Reverse when no locality can be resolved.
	UnknownLocation = "Unknown Location"

	userAgent = "daily-brief/1.0"
)

var (
	ErrCityNotFound = errors.New("city not found")
	ErrEmptyName    = errors.New("city name is required")
	ErrLookup       = errors.New("geocoding failed")
)

// Place is a forward geocoding result.
type Place struct {
	Name      string  `json:"name"`
	Country   string  `json:"country,omitempty"`
	Admin1    string  `json:"admin1,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone,omitempty"`
}

func (p Place) Coordinates() models.Coordinates {
	return models.Coordinates{Lat: p.Latitude, Lon: p.Longitude}
}

// Geocoder is what the service and GPS tracker need from this package.
type Geocoder interface {
	Search(ctx context.Context, name string) (Place, error)
	Reverse(ctx context.Context, coords models.Coordinates) string
}

type Client struct {
	searchURL  string
	reverseURL string
	client     *http.Client
}

func New(searchURL, reverseURL string, timeout time.Duration) *Client {
	return &Client{
		searchURL:  searchURL,
		reverseURL: reverseURL,
		client:     &http.Client{Timeout: timeout},
	}
}

type searchResponse struct {
	Results []Place `json:"results"`
}

// Search returns the best match for name.
func (c *Client) Search(ctx context.Context, name string) (Place, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Place{}, ErrEmptyName
	}

	params := url.Values{}
	params.Set("name", name)
	params.Set("count", "1")
	params.Set("language", "en")
	params.Set("format", "json")

	var resp searchResponse
	if err := c.getJSON(ctx, c.searchURL, params, &resp); err != nil {
		observability.GeocodeCallsTotal.WithLabelValues("forward", "error").Inc()
		return Place{}, err
	}
	if len(resp.Results) == 0 {
		observability.GeocodeCallsTotal.WithLabelValues("forward", "not_found").Inc()
		return Place{}, ErrCityNotFound
	}
	observability.GeocodeCallsTotal.WithLabelValues("forward", "success").Inc()
	return resp.Results[0], nil
}

type reverseResponse struct {
	Address struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
	} `json:"address"`
}

// Reverse returns the locality at coords, or UnknownLocation on any failure.
func (c *Client) Reverse(ctx context.Context, coords models.Coordinates) string {
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(coords.Lon, 'f', -1, 64))
	params.Set("zoom", "10")

	var resp reverseResponse
	if err := c.getJSON(ctx, c.reverseURL, params, &resp); err != nil {
		observability.GeocodeCallsTotal.WithLabelValues("reverse", "error").Inc()
		observability.LoggerFromContext(ctx, nil).Debug("reverse geocoding failed", zap.Error(err))
		return UnknownLocation
	}

	a := resp.Address
	for _, name := range []string{a.City, a.Town, a.Village, a.Municipality} {
		if name != "" {
			observability.GeocodeCallsTotal.WithLabelValues("reverse", "success").Inc()
			return name
		}
	}
	observability.GeocodeCallsTotal.WithLabelValues("reverse", "not_found").Inc()
	return UnknownLocation
}

func (c *Client) getJSON(ctx context.Context, base string, params url.Values, out any) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLookup, err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLookup, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLookup, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrLookup, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrLookup, err)
	}
	return nil
}
