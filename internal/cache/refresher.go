package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/daily-brief/internal/models"
)

// LocationSource lists the locations to keep warm.
type LocationSource interface {
	List() []models.TrackedLocation
}

// WeatherRefresher is implemented by the service layer. Used by Refresher to
// avoid a circular dependency on the service package.
type WeatherRefresher interface {
	RefreshAll(ctx context.Context, locs []models.TrackedLocation, force bool) []models.LocationWeather
	RefreshAllBatch(ctx context.Context, locs []models.TrackedLocation, force bool) []models.LocationWeather
}

// Refresher re-fetches every tracked location so reads keep hitting the cache.
type Refresher struct {
	weather WeatherRefresher
	source  LocationSource
	batch   bool
	logger  *zap.Logger
}

// NewRefresher creates a Refresher. batch selects one bulk request per chunk
// instead of one request per location.
func NewRefresher(weather WeatherRefresher, source LocationSource, batch bool, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{weather: weather, source: source, batch: batch, logger: logger}
}

// Refresh fetches every location that has coordinates, bypassing fresh
// entries. Returns the failures joined, or nil.
func (r *Refresher) Refresh(ctx context.Context) error {
	var locs []models.TrackedLocation
	for _, loc := range r.source.List() {
		if loc.HasCoordinates() {
			locs = append(locs, loc)
		}
	}
	if len(locs) == 0 {
		return nil
	}

	start := time.Now()
	r.logger.Info("refreshing tracked locations", zap.Int("locations", len(locs)), zap.Bool("batch", r.batch))

	var results []models.LocationWeather
	if r.batch {
		results = r.weather.RefreshAllBatch(ctx, locs, true)
	} else {
		results = r.weather.RefreshAll(ctx, locs, true)
	}

	var errs []error
	for _, res := range results {
		if res.Error != "" {
			errs = append(errs, fmt.Errorf("refresh %s: %s", res.DisplayName(), res.Error))
		}
	}
	r.logger.Info("refresh complete",
		zap.Int("locations", len(locs)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", time.Since(start).Seconds()))
	return errors.Join(errs...)
}

// RefreshPeriodic runs an initial Refresh, then refreshes at the given interval until ctx is done.
func (r *Refresher) RefreshPeriodic(ctx context.Context, interval time.Duration) error {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("initial refresh failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("periodic refresh failed", zap.Error(err))
			}
		}
	}
}
