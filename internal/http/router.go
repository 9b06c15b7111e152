package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/daily-brief/internal/observability"
)

// RouterConfig holds the middleware settings. A nil Limiter disables rate
// limiting; RequestTimeout applies to the /weather routes only.
type RouterConfig struct {
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter registers every route. /health and /metrics skip rate limiting
// so probes keep working under load.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(cfg.Logger))
	router.Use(MetricsMiddleware)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "No such endpoint.")
	})

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	api.Use(TrafficMiddleware)

	api.HandleFunc("/presets", h.ListPresets).Methods(http.MethodGet)
	api.HandleFunc("/preset", h.GetPreset).Methods(http.MethodGet)
	api.HandleFunc("/preset", h.PutPreset).Methods(http.MethodPut)
	api.HandleFunc("/preset/load/{name}", h.LoadPreset).Methods(http.MethodPost)
	api.HandleFunc("/preset/reset", h.ResetPreset).Methods(http.MethodPost)
	api.HandleFunc("/preset/params", h.GetPresetParams).Methods(http.MethodGet)

	api.HandleFunc("/locations", h.ListLocations).Methods(http.MethodGet)
	api.HandleFunc("/locations", h.AddLocation).Methods(http.MethodPost)
	api.HandleFunc("/locations", h.ClearLocations).Methods(http.MethodDelete)
	api.HandleFunc("/locations/{id}", h.DeleteLocation).Methods(http.MethodDelete)
	api.HandleFunc("/locations/{id}/select", h.SelectLocation).Methods(http.MethodPost)

	api.HandleFunc("/location/status", h.GetLocationStatus).Methods(http.MethodGet)
	api.HandleFunc("/location/status", h.PostLocationStatus).Methods(http.MethodPost)
	api.HandleFunc("/location/fix", h.PostLocationFix).Methods(http.MethodPost)

	timeout := TimeoutMiddleware(cfg.RequestTimeout)
	api.Handle("/weather", timeout(http.HandlerFunc(h.GetAllWeather))).Methods(http.MethodGet)
	api.Handle("/weather/cache", http.HandlerFunc(h.ClearWeatherCache)).Methods(http.MethodDelete)
	api.Handle("/weather/city/{city}", timeout(http.HandlerFunc(h.GetCityWeather))).Methods(http.MethodGet)
	api.Handle("/weather/{id}", timeout(http.HandlerFunc(h.GetLocationWeather))).Methods(http.MethodGet)

	api.HandleFunc("/countdowns", h.ListCountdowns).Methods(http.MethodGet)
	api.HandleFunc("/countdowns", h.AddCountdown).Methods(http.MethodPost)
	api.HandleFunc("/countdowns", h.ClearCountdowns).Methods(http.MethodDelete)
	api.HandleFunc("/countdowns/{id}", h.GetCountdown).Methods(http.MethodGet)
	api.HandleFunc("/countdowns/{id}", h.UpdateCountdown).Methods(http.MethodPut)
	api.HandleFunc("/countdowns/{id}", h.DeleteCountdown).Methods(http.MethodDelete)

	api.Handle("/brief", timeout(http.HandlerFunc(h.GetBrief))).Methods(http.MethodGet)

	api.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodPost)
	api.HandleFunc("/auth/status", h.AuthStatus).Methods(http.MethodGet)

	api.HandleFunc("/export", h.Export).Methods(http.MethodGet)
	return router
}
