// Package gps keeps the device location state. The device owns the GPS
// hardware and reports permission changes, fixes and failures here; the
// tracker turns a fix into the current-location entry.
package gps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/observability"
	"github.com/kjstillabower/daily-brief/internal/validation"
)

type Status string

const (
	StatusIdle                 Status = "idle"
	StatusServicesDisabled     Status = "services_disabled"
	StatusRequestingPermission Status = "requesting_permission"
	StatusAuthorizedWhenInUse  Status = "authorized_when_in_use"
	StatusAuthorizedAlways     Status = "authorized_always"
	StatusDenied               Status = "denied"
	StatusRestricted           Status = "restricted"
	StatusRequestingLocation   Status = "requesting_location"
	StatusUpdatingLocation     Status = "updating_location"
	StatusLocationReceived     Status = "location_received"
	StatusFailed               Status = "failed"
)

var ErrUnknownStatus = errors.New("unknown location status")

// ParseStatus accepts the statuses a device may report. location_received
// and failed are set through ReportFix and ReportFailure instead.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusIdle, StatusServicesDisabled, StatusRequestingPermission,
		StatusAuthorizedWhenInUse, StatusAuthorizedAlways, StatusDenied,
		StatusRestricted, StatusRequestingLocation, StatusUpdatingLocation:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Authorized reports whether the device may deliver fixes.
func (s Status) Authorized() bool {
	switch s {
	case StatusAuthorizedWhenInUse, StatusAuthorizedAlways,
		StatusRequestingLocation, StatusUpdatingLocation, StatusLocationReceived:
		return true
	}
	return false
}

// Fix is one position report.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Locality  string    `json:"locality"`
	At        time.Time `json:"at"`
}

// State is a snapshot of the tracker.
type State struct {
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	LastFix   *Fix      `json:"last_fix,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is the status line shown in settings.
func (s State) Message() string {
	switch s.Status {
	case StatusIdle, "":
		return "Location: idle"
	case StatusServicesDisabled:
		return "Location: Services OFF (enable in Settings)"
	case StatusRequestingPermission:
		return "Location: requesting permission…"
	case StatusAuthorizedWhenInUse:
		return "Location: authorized (When In Use)"
	case StatusAuthorizedAlways:
		return "Location: authorized (Always)"
	case StatusDenied:
		return "Location: denied (enable in Settings)"
	case StatusRestricted:
		return "Location: restricted (system policy)"
	case StatusRequestingLocation:
		return "Location: requesting one-shot fix…"
	case StatusUpdatingLocation:
		return "Location: updating continuously…"
	case StatusLocationReceived:
		if s.LastFix == nil {
			return "Location: idle"
		}
		return fmt.Sprintf("Location: %.5f, %.5f (±%.0fm)", s.LastFix.Latitude, s.LastFix.Longitude, s.LastFix.Accuracy)
	case StatusFailed:
		return "Location: error: " + s.Error
	}
	return "Location: " + string(s.Status)
}

type ReverseGeocoder interface {
	Reverse(ctx context.Context, coords models.Coordinates) string
}

// CurrentLocationStore is the part of the location store a fix updates.
type CurrentLocationStore interface {
	UpdateCurrentLocation(ctx context.Context, name string, lat, lon float64) (models.TrackedLocation, error)
}

// CacheInvalidator drops cached weather for a location.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, id string) error
}

type Tracker struct {
	geocoder  ReverseGeocoder
	locations CurrentLocationStore
	weather   CacheInvalidator
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.RWMutex
	state State
}

func NewTracker(geocoder ReverseGeocoder, locations CurrentLocationStore, weather CacheInvalidator, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		geocoder:  geocoder,
		locations: locations,
		weather:   weather,
		logger:    logger,
		now:       time.Now,
	}
	t.state = State{Status: StatusIdle, UpdatedAt: t.now().UTC()}
	return t
}

// MarshalJSON adds the status line as "message".
func (s State) MarshalJSON() ([]byte, error) {
	type plain State
	return json.Marshal(struct {
		plain
		Message string `json:"message"`
	}{plain(s), s.Message()})
}

// Status returns a snapshot.
func (t *Tracker) Status() State {
	t.mu.RLock()
	s := t.state
	t.mu.RUnlock()
	if s.LastFix != nil {
		fix := *s.LastFix
		s.LastFix = &fix
	}
	return s
}

// ReportStatus records a permission or service transition. The last fix is kept.
func (t *Tracker) ReportStatus(ctx context.Context, status Status) State {
	t.mu.Lock()
	t.state.Status = status
	t.state.Error = ""
	t.state.UpdatedAt = t.now().UTC()
	t.mu.Unlock()
	observability.LoggerFromContext(ctx, t.logger).Info("location status changed", zap.String("status", string(status)))
	return t.Status()
}

// ReportFailure records a failed fix attempt.
func (t *Tracker) ReportFailure(ctx context.Context, msg string) State {
	t.mu.Lock()
	t.state.Status = StatusFailed
	t.state.Error = msg
	t.state.UpdatedAt = t.now().UTC()
	t.mu.Unlock()
	observability.LoggerFromContext(ctx, t.logger).Warn("location fix failed", zap.String("error", msg))
	return t.Status()
}

// ReportFix stores a new position: the current-location entry takes the
// coordinates and reverse-geocoded locality, and its cached weather is dropped
// so the next read fetches for the new place.
func (t *Tracker) ReportFix(ctx context.Context, lat, lon, accuracy float64) (models.TrackedLocation, error) {
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		return models.TrackedLocation{}, err
	}
	if err := validation.ValidateAccuracy(accuracy); err != nil {
		return models.TrackedLocation{}, err
	}
	logger := observability.LoggerFromContext(ctx, t.logger)

	fix := Fix{Latitude: lat, Longitude: lon, Accuracy: accuracy, At: t.now().UTC()}
	t.mu.Lock()
	t.state = State{Status: StatusLocationReceived, LastFix: &fix, UpdatedAt: fix.At}
	t.mu.Unlock()

	fix.Locality = t.geocoder.Reverse(ctx, models.Coordinates{Lat: lat, Lon: lon})

	loc, err := t.locations.UpdateCurrentLocation(ctx, fix.Locality, lat, lon)
	if err != nil {
		return models.TrackedLocation{}, fmt.Errorf("update current location: %w", err)
	}

	t.mu.Lock()
	if t.state.LastFix != nil && t.state.LastFix.At.Equal(fix.At) {
		t.state.LastFix.Locality = fix.Locality
	}
	t.mu.Unlock()

	if err := t.weather.Invalidate(ctx, loc.ID); err != nil {
		logger.Warn("invalidate current location weather failed", zap.String("locationId", loc.ID), zap.Error(err))
	}
	logger.Info("location fix received",
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
		zap.Float64("accuracy", accuracy),
		zap.String("locality", fix.Locality),
	)
	return loc, nil
}
