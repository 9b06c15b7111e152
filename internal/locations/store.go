// Package locations keeps the user's tracked places: the device's own GPS
// entry plus manually added cities, one of which feeds the home screen.
package locations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/observability"
	"github.com/kjstillabower/daily-brief/internal/storage"
)

// StorageKey is the key-value key holding the JSON array of locations.
const StorageKey = "trackedLocations"

// DefaultLimit counts the current-location entry.
const DefaultLimit = 10

var (
	ErrLimitReached        = errors.New("location limit reached")
	ErrDuplicateLocation   = errors.New("location already tracked")
	ErrNotFound            = errors.New("location not found")
	ErrCannotDeleteCurrent = errors.New("current location cannot be deleted")
	ErrEmptyName           = errors.New("city name is required")
)

// LimitError carries the configured limit. It matches ErrLimitReached.
type LimitError struct {
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("Maximum of %d locations reached. Please delete one to add more.", e.Limit)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimitReached
}

// Store is safe for concurrent use. Every mutation is persisted before it
// becomes visible; a failed write leaves the list unchanged.
type Store struct {
	mu     sync.RWMutex
	kv     storage.Store
	logger *zap.Logger
	limit  int
	items  []models.TrackedLocation
	now    func() time.Time
}

// Open loads the saved list and makes sure it holds exactly one current-location
// entry and exactly one home selection.
func Open(ctx context.Context, kv storage.Store, limit int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	s := &Store{kv: kv, logger: logger, limit: limit, now: time.Now}

	var saved []models.TrackedLocation
	err := storage.GetJSON(ctx, kv, StorageKey, &saved)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Warn("load tracked locations failed, starting empty", zap.Error(err))
		saved = nil
	}

	items, changed := normalize(saved, s.newCurrent)
	if changed {
		if err := storage.PutJSON(ctx, kv, StorageKey, items); err != nil {
			return nil, fmt.Errorf("save tracked locations: %w", err)
		}
	}
	s.items = items
	observability.TrackedLocationsGauge.Set(float64(len(items)))
	return s, nil
}

func (s *Store) newCurrent() models.TrackedLocation {
	return models.TrackedLocation{
		ID:                uuid.NewString(),
		CityName:          models.CurrentLocationName,
		IsCurrentLocation: true,
		DateAdded:         s.now().UTC(),
	}
}

// normalize drops extra GPS entries, inserts a missing GPS entry at index 0
// and repairs the home selection. It reports whether anything changed.
func normalize(in []models.TrackedLocation, newCurrent func() models.TrackedLocation) ([]models.TrackedLocation, bool) {
	changed := false
	out := make([]models.TrackedLocation, 0, len(in)+1)
	currentIdx := -1
	for _, loc := range in {
		if loc.IsCurrentLocation {
			if currentIdx >= 0 {
				changed = true
				continue
			}
			currentIdx = len(out)
		}
		out = append(out, loc)
	}
	if currentIdx < 0 {
		out = append([]models.TrackedLocation{newCurrent()}, out...)
		currentIdx = 0
		changed = true
	}

	selected := -1
	for i := range out {
		if !out[i].IsSelectedForHome {
			continue
		}
		if selected >= 0 {
			out[i].IsSelectedForHome = false
			changed = true
			continue
		}
		selected = i
	}
	if selected < 0 {
		out[currentIdx].IsSelectedForHome = true
		changed = true
	}
	return out, changed
}

func (s *Store) Limit() int { return s.limit }

func (s *Store) List() []models.TrackedLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TrackedLocation(nil), s.items...)
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) Get(id string) (models.TrackedLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.items[i], nil
	}
	return models.TrackedLocation{}, ErrNotFound
}

// Selected returns the home location, falling back to the current location.
func (s *Store) Selected() (models.TrackedLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, loc := range s.items {
		if loc.IsSelectedForHome {
			return loc, true
		}
	}
	for _, loc := range s.items {
		if loc.IsCurrentLocation {
			return loc, true
		}
	}
	return models.TrackedLocation{}, false
}

func (s *Store) Current() (models.TrackedLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, loc := range s.items {
		if loc.IsCurrentLocation {
			return loc, true
		}
	}
	return models.TrackedLocation{}, false
}

// Manual returns the user-added cities in list order.
func (s *Store) Manual() []models.TrackedLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TrackedLocation
	for _, loc := range s.items {
		if !loc.IsCurrentLocation {
			out = append(out, loc)
		}
	}
	return out
}

func (s *Store) CanAddMore() bool {
	return s.RemainingSlots() > 0
}

func (s *Store) RemainingSlots() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := s.limit - len(s.items); n > 0 {
		return n
	}
	return 0
}

// Add appends loc. IDs and dates are filled in when empty; the new entry is
// never the home selection.
func (s *Store) Add(ctx context.Context, loc models.TrackedLocation) (models.TrackedLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) >= s.limit {
		return models.TrackedLocation{}, &LimitError{Limit: s.limit}
	}
	for _, existing := range s.items {
		if existing.SameAs(loc) {
			return models.TrackedLocation{}, ErrDuplicateLocation
		}
	}
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	if loc.DateAdded.IsZero() {
		loc.DateAdded = s.now().UTC()
	}
	loc.IsSelectedForHome = false

	next := append(append([]models.TrackedLocation(nil), s.items...), loc)
	if err := s.commit(ctx, next); err != nil {
		return models.TrackedLocation{}, err
	}
	s.logger.Info("location added", zap.String("location_id", loc.ID), zap.String("city", loc.CityName))
	return loc, nil
}

// AddCity adds a manual city with known coordinates.
func (s *Store) AddCity(ctx context.Context, name string, lat, lon float64) (models.TrackedLocation, error) {
	name = NormalizeCityName(name)
	if name == "" {
		return models.TrackedLocation{}, ErrEmptyName
	}
	return s.Add(ctx, models.TrackedLocation{
		CityName:  name,
		Latitude:  &lat,
		Longitude: &lon,
	})
}

// NormalizeCityName trims whitespace and title-cases names typed all in lower case.
func NormalizeCityName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name != "" && name == strings.ToLower(name) {
		return cases.Title(language.Und).String(name)
	}
	return name
}

// Update replaces the entry with the same ID. Whether it is the GPS entry
// cannot change.
func (s *Store) Update(ctx context.Context, loc models.TrackedLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(loc.ID)
	if i < 0 {
		return ErrNotFound
	}
	loc.IsCurrentLocation = s.items[i].IsCurrentLocation
	for j, existing := range s.items {
		if j != i && existing.SameAs(loc) {
			return ErrDuplicateLocation
		}
	}
	next := append([]models.TrackedLocation(nil), s.items...)
	next[i] = loc
	switch {
	case loc.IsSelectedForHome:
		for j := range next {
			if j != i {
				next[j].IsSelectedForHome = false
			}
		}
	case s.items[i].IsSelectedForHome:
		for j := range next {
			if next[j].IsCurrentLocation {
				next[j].IsSelectedForHome = true
			}
		}
	}
	return s.commit(ctx, next)
}

// Delete removes a manual entry. Deleting the home selection moves it to the
// current location.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	if s.items[i].IsCurrentLocation {
		return ErrCannotDeleteCurrent
	}
	wasSelected := s.items[i].IsSelectedForHome

	next := make([]models.TrackedLocation, 0, len(s.items)-1)
	next = append(next, s.items[:i]...)
	next = append(next, s.items[i+1:]...)
	if wasSelected {
		for j := range next {
			if next[j].IsCurrentLocation {
				next[j].IsSelectedForHome = true
			}
		}
	}
	if err := s.commit(ctx, next); err != nil {
		return err
	}
	s.logger.Info("location deleted", zap.String("location_id", id))
	return nil
}

// SelectForHome makes id the only home selection.
func (s *Store) SelectForHome(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(id) < 0 {
		return ErrNotFound
	}
	next := append([]models.TrackedLocation(nil), s.items...)
	for j := range next {
		next[j].IsSelectedForHome = next[j].ID == id
	}
	return s.commit(ctx, next)
}

// UpdateCurrentLocation stores a new GPS fix on the current-location entry,
// keeping its ID, selection and date added.
func (s *Store) UpdateCurrentLocation(ctx context.Context, name string, lat, lon float64) (models.TrackedLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := append([]models.TrackedLocation(nil), s.items...)
	i := -1
	for j := range next {
		if next[j].IsCurrentLocation {
			i = j
			break
		}
	}
	if i < 0 {
		next = append([]models.TrackedLocation{s.newCurrent()}, next...)
		i = 0
	}
	if name == "" {
		name = models.CurrentLocationName
	}
	next[i].CityName = name
	next[i].Latitude = &lat
	next[i].Longitude = &lon

	if err := s.commit(ctx, next); err != nil {
		return models.TrackedLocation{}, err
	}
	return next[i], nil
}

// ClearAll removes every manual city. The current location stays and becomes
// the home selection.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next []models.TrackedLocation
	for _, loc := range s.items {
		if loc.IsCurrentLocation {
			loc.IsSelectedForHome = true
			next = append(next, loc)
		}
	}
	if next == nil {
		cur := s.newCurrent()
		cur.IsSelectedForHome = true
		next = []models.TrackedLocation{cur}
	}
	return s.commit(ctx, next)
}

// commit persists next and swaps it in. Callers hold s.mu.
func (s *Store) commit(ctx context.Context, next []models.TrackedLocation) error {
	if err := storage.PutJSON(ctx, s.kv, StorageKey, next); err != nil {
		return fmt.Errorf("save tracked locations: %w", err)
	}
	s.items = next
	observability.TrackedLocationsGauge.Set(float64(len(next)))
	return nil
}

func (s *Store) indexOf(id string) int {
	for i, loc := range s.items {
		if loc.ID == id {
			return i
		}
	}
	return -1
}
