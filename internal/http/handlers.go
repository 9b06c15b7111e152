package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/daily-brief/internal/backend"
	"github.com/kjstillabower/daily-brief/internal/brief"
	"github.com/kjstillabower/daily-brief/internal/cache"
	"github.com/kjstillabower/daily-brief/internal/countdown"
	"github.com/kjstillabower/daily-brief/internal/geocode"
	"github.com/kjstillabower/daily-brief/internal/gps"
	"github.com/kjstillabower/daily-brief/internal/lifecycle"
	"github.com/kjstillabower/daily-brief/internal/locations"
	"github.com/kjstillabower/daily-brief/internal/observability"
	"github.com/kjstillabower/daily-brief/internal/preset"
	"github.com/kjstillabower/daily-brief/internal/service"
	"github.com/kjstillabower/daily-brief/internal/traffic"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int // 0 when rate limiter disabled
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// CircuitOpen reports whether the weather API breaker is open.
	CircuitOpen func() bool
}

// Deps are the stores and services behind the REST surface. Account is nil
// when no backend is configured.
type Deps struct {
	Weather    *service.WeatherService
	Locations  *locations.Store
	Countdowns *countdown.Store
	Presets    *preset.Store
	Geocoder   geocode.Geocoder
	GPS        *gps.Tracker
	Brief      *brief.Composer
	Account    *backend.Client
	Cache      cache.Cache
	Health     *HealthConfig
	// RefreshMode is the GET /weather mode when none is requested.
	RefreshMode string
	Logger      *zap.Logger
	Now         func() time.Time
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather     *service.WeatherService
	locations   *locations.Store
	countdowns  *countdown.Store
	presets     *preset.Store
	geocoder    geocode.Geocoder
	gps         *gps.Tracker
	brief       *brief.Composer
	account     *backend.Client
	cache       cache.Cache
	health      *HealthConfig
	refreshMode string
	logger      *zap.Logger
	now         func() time.Time

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.RefreshMode == "" {
		d.RefreshMode = ModeParallel
	}
	return &Handler{
		weather:     d.Weather,
		locations:   d.Locations,
		countdowns:  d.Countdowns,
		presets:     d.Presets,
		geocoder:    d.Geocoder,
		gps:         d.GPS,
		brief:       d.Brief,
		account:     d.Account,
		cache:       d.Cache,
		health:      d.Health,
		refreshMode: d.RefreshMode,
		logger:      d.Logger,
		now:         d.Now,
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	}
	if h.health != nil && h.health.CachePing != nil {
		if h.health.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "daily-brief",
		"version":   "dev",
		"checks":    checks,
		"uptime":    lifecycle.Uptime().Truncate(time.Second).String(),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > overloaded > idle > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if !lifecycle.IsReady() {
		return healthResult{"starting", http.StatusServiceUnavailable, "not_ready"}
	}
	cfg := h.health
	if cfg == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(traffic.RequestCount(cfg.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if cfg.IdleWindow > 0 && cfg.MinimumLifespan > 0 && lifecycle.Uptime() >= cfg.MinimumLifespan {
		perMinute := float64(traffic.RequestCount(cfg.IdleWindow)) / cfg.IdleWindow.Minutes()
		if perMinute < float64(cfg.IdleThresholdReqPerMin) {
			return healthResult{"idle", http.StatusOK, "low_traffic"}
		}
	}
	if cfg.CircuitOpen != nil && cfg.CircuitOpen() {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		snap := traffic.Current(cfg.DegradedWindow)
		if snap.Successes+snap.Errors > 0 && snap.ErrorPct() >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps err to a status, code and user-facing message.
// Server-side failures are logged with the request logger.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(err)
	logger := observability.LoggerFromContext(r.Context(), zap.NewNop())
	if status >= http.StatusInternalServerError {
		logger.Warn("request failed", zap.String("code", code), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.String("code", code), zap.Error(err))
	}
	writeError(w, r, status, code, message)
}

var errEmptyBody = errors.New("request body is required")

// decodeJSON reads a bounded JSON body into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}

