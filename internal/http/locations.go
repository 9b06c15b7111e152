package http

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/daily-brief/internal/gps"
	"github.com/kjstillabower/daily-brief/internal/locations"
	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/observability"
	"github.com/kjstillabower/daily-brief/internal/validation"
)

type locationList struct {
	Locations      []models.TrackedLocation `json:"locations"`
	Limit          int                      `json:"limit"`
	RemainingSlots int                      `json:"remaining_slots"`
	CanAddMore     bool                     `json:"can_add_more"`
}

func (h *Handler) locationList() locationList {
	return locationList{
		Locations:      h.locations.List(),
		Limit:          h.locations.Limit(),
		RemainingSlots: h.locations.RemainingSlots(),
		CanAddMore:     h.locations.CanAddMore(),
	}
}

// ListLocations handles GET /locations.
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.locationList())
}

type addLocationRequest struct {
	CityName  string   `json:"city_name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// AddLocation handles POST /locations. Without coordinates the city is
// geocoded first and stored under the name the geocoder returns.
func (h *Handler) AddLocation(w http.ResponseWriter, r *http.Request) {
	var req addLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	city, err := validation.ValidateCity(req.CityName, validation.CityMinLen, validation.CityMaxLen)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", "latitude and longitude must be sent together")
		return
	}
	if !h.locations.CanAddMore() {
		writeServiceError(w, r, &locations.LimitError{Limit: h.locations.Limit()})
		return
	}

	var lat, lon float64
	if req.Latitude != nil {
		lat, lon = *req.Latitude, *req.Longitude
		if err := validation.ValidateCoordinates(lat, lon); err != nil {
			writeServiceError(w, r, err)
			return
		}
	} else {
		place, err := h.geocoder.Search(r.Context(), city)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if place.Name != "" {
			city = place.Name
		}
		lat, lon = place.Latitude, place.Longitude
	}

	loc, err := h.locations.AddCity(r.Context(), city, lat, lon)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

// ClearLocations handles DELETE /locations. The current-location entry stays.
func (h *Handler) ClearLocations(w http.ResponseWriter, r *http.Request) {
	removed := h.locations.Manual()
	if err := h.locations.ClearAll(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	for _, loc := range removed {
		h.invalidate(r, loc.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteLocation handles DELETE /locations/{id}.
func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.locations.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.invalidate(r, id)
	w.WriteHeader(http.StatusNoContent)
}

// SelectLocation handles POST /locations/{id}/select.
func (h *Handler) SelectLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.locations.SelectForHome(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.locationList())
}

// invalidate drops a removed location's forecast. Failures only cost a stale
// cache entry, so they are logged.
func (h *Handler) invalidate(r *http.Request, id string) {
	if err := h.weather.Invalidate(r.Context(), id); err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Warn("invalidate cache failed",
			zap.String("location_id", id), zap.Error(err))
	}
}

// GetLocationStatus handles GET /location/status.
func (h *Handler) GetLocationStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gps.Status())
}

type locationStatusRequest struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// PostLocationStatus handles POST /location/status. "failed" carries the
// device's error text.
func (h *Handler) PostLocationStatus(w http.ResponseWriter, r *http.Request) {
	var req locationStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if gps.Status(strings.TrimSpace(req.Status)) == gps.StatusFailed {
		msg := strings.TrimSpace(req.Error)
		if msg == "" {
			msg = "unknown error"
		}
		writeJSON(w, http.StatusOK, h.gps.ReportFailure(r.Context(), msg))
		return
	}
	status, err := gps.ParseStatus(strings.TrimSpace(req.Status))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.gps.ReportStatus(r.Context(), status))
}

type locationFixRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
}

type locationFixResponse struct {
	Location models.TrackedLocation `json:"location"`
	Status   gps.State              `json:"status"`
}

// PostLocationFix handles POST /location/fix.
func (h *Handler) PostLocationFix(w http.ResponseWriter, r *http.Request) {
	var req locationFixRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", "latitude and longitude are required")
		return
	}
	loc, err := h.gps.ReportFix(r.Context(), *req.Latitude, *req.Longitude, req.Accuracy)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locationFixResponse{Location: loc, Status: h.gps.Status()})
}
