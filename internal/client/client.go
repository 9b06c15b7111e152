package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/daily-brief/internal/circuitbreaker"
	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/observability"
	"github.com/kjstillabower/daily-brief/internal/preset"
)

// DefaultForecastURL is the public Open-Meteo forecast endpoint. No API key is needed.
const DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"

// WeatherClient fetches forecasts for coordinates.
type WeatherClient interface {
	Forecast(ctx context.Context, coords models.Coordinates, p preset.WeatherPreset) (models.Weather, error)
	ForecastBatch(ctx context.Context, coords []models.Coordinates, p preset.WeatherPreset) ([]models.Weather, error)
}

var (
	ErrInvalidURL      = errors.New("invalid URL")
	ErrNetwork         = errors.New("network error")
	ErrDecode          = errors.New("decode response")
	ErrBadRequest      = errors.New("bad request")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrCircuitOpen     = circuitbreaker.ErrOpen
)

// maxBodyBytes bounds a forecast response. A 16-day hourly forecast for a
// full batch stays well under this.
const maxBodyBytes = 8 << 20

type OpenMeteoClient struct {
	apiURL         *url.URL
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
	now            func() time.Time
}

// NewOpenMeteoClient returns a client with two attempts per call.
func NewOpenMeteoClient(apiURL string, timeout time.Duration) (*OpenMeteoClient, error) {
	return NewOpenMeteoClientWithRetry(apiURL, timeout, 2, 100*time.Millisecond, 2*time.Second)
}

func NewOpenMeteoClientWithRetry(apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenMeteoClient, error) {
	u, err := parseBaseURL(apiURL)
	if err != nil {
		return nil, err
	}
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &OpenMeteoClient{
		apiURL:         u,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}, nil
}

// parseBaseURL accepts absolute http(s) URLs only.
func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u, nil
}

// SetCircuitBreaker wraps every attempt in cb. Nil disables it.
func (c *OpenMeteoClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Forecast fetches one location.
func (c *OpenMeteoClient) Forecast(ctx context.Context, coords models.Coordinates, p preset.WeatherPreset) (models.Weather, error) {
	out, err := c.ForecastBatch(ctx, []models.Coordinates{coords}, p)
	if err != nil {
		return models.Weather{}, err
	}
	return out[0], nil
}

// ForecastBatch fetches every location in one request. Results are in input order.
func (c *OpenMeteoClient) ForecastBatch(ctx context.Context, coords []models.Coordinates, p preset.WeatherPreset) ([]models.Weather, error) {
	if len(coords) == 0 {
		return []models.Weather{}, nil
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if len(coords) > 1 {
		observability.WeatherAPIBatchSize.Observe(float64(len(coords)))
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var result []models.Weather
		call := func() error {
			var err error
			result, err = c.callAPI(ctx, coords, p)
			return err
		}
		var err error
		if c.breaker != nil {
			err = c.breaker.Call(ctx, call)
		} else {
			err = call()
		}
		if err == nil {
			return result, nil
		}

		lastErr = err
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		if !c.isRetryable(ctx, err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, coords []models.Coordinates, p preset.WeatherPreset) ([]models.Weather, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, coords, p)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrNetwork, err)
	}
	if err := handleErrorResponse(resp.StatusCode, body); err != nil {
		return nil, err
	}

	payloads, err := decodeForecasts(body)
	if err != nil {
		return nil, err
	}
	if len(payloads) != len(coords) {
		return nil, fmt.Errorf("%w: got %d results for %d locations", ErrDecode, len(payloads), len(coords))
	}

	fetchedAt := c.now().UTC()
	out := make([]models.Weather, len(payloads))
	for i, r := range payloads {
		out[i] = convert(r, coords[i], p.ForecastDays, fetchedAt)
	}
	return out, nil
}

// decodeForecasts accepts a bare object (one location) or an array (several).
func decodeForecasts(body []byte) ([]forecastResponse, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrDecode)
	}
	if trimmed[0] == '[' {
		var many []forecastResponse
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return many, nil
	}
	var one forecastResponse
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return []forecastResponse{one}, nil
}

// isRetryable reports whether another attempt could succeed. Cancellation by
// the caller is final; a per-attempt timeout is not.
func (c *OpenMeteoClient) isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUpstreamFailure) ||
		errors.Is(err, ErrNetwork)
}

func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, coords []models.Coordinates, p preset.WeatherPreset) (*http.Request, error) {
	lats := make([]string, len(coords))
	lons := make([]string, len(coords))
	for i, co := range coords {
		lats[i] = formatCoord(co.Lat)
		lons[i] = formatCoord(co.Lon)
	}

	params := url.Values{}
	params.Set("latitude", strings.Join(lats, ","))
	params.Set("longitude", strings.Join(lons, ","))
	if s := p.CurrentParameters(); s != "" {
		params.Set("current", s)
	}
	if s := p.HourlyParameters(); s != "" {
		params.Set("hourly", s)
	}
	if s := p.DailyParameters(); s != "" {
		params.Set("daily", s)
	}
	params.Set("timezone", "auto")
	params.Set("forecast_days", strconv.Itoa(p.ForecastDays))

	u := *c.apiURL
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusBadRequest:
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Reason != "" {
			return fmt.Errorf("%w: %s", ErrBadRequest, apiErr.Reason)
		}
		return fmt.Errorf("%w: HTTP %d", ErrBadRequest, statusCode)
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case statusCode >= 400 && statusCode < 500:
		return fmt.Errorf("%w: HTTP %d", ErrBadRequest, statusCode)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
