package preset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/daily-brief/internal/storage"
)

// StorageKey is the key-value key holding the active preset.
const StorageKey = "weatherPreset"

var ErrUnknownPreset = errors.New("unknown preset")

// Store holds the active preset and persists every change.
type Store struct {
	mu      sync.RWMutex
	kv      storage.Store
	logger  *zap.Logger
	current WeatherPreset
}

// NewStore loads the saved preset. A missing, corrupt or invalid blob falls
// back to Standard.
func NewStore(ctx context.Context, kv storage.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{kv: kv, logger: logger, current: Standard()}

	var saved WeatherPreset
	err := storage.GetJSON(ctx, kv, StorageKey, &saved)
	switch {
	case err == nil && saved.Validate() == nil:
		s.current = saved
	case err == nil:
		logger.Warn("saved preset invalid, using standard", zap.Int("forecast_days", saved.ForecastDays))
	case !errors.Is(err, storage.ErrNotFound):
		logger.Warn("load preset failed, using standard", zap.Error(err))
	}
	return s
}

func (s *Store) Get() WeatherPreset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Save validates and persists p as the active preset.
func (s *Store) Save(ctx context.Context, p WeatherPreset) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := storage.PutJSON(ctx, s.kv, StorageKey, p); err != nil {
		return fmt.Errorf("save preset: %w", err)
	}
	s.current = p
	return nil
}

// LoadPreset activates a named preset.
func (s *Store) LoadPreset(ctx context.Context, name string) (WeatherPreset, error) {
	p, ok := Lookup(name)
	if !ok {
		return WeatherPreset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	if err := s.Save(ctx, p); err != nil {
		return WeatherPreset{}, err
	}
	return p, nil
}

func (s *Store) ResetToDefault(ctx context.Context) (WeatherPreset, error) {
	p := Standard()
	if err := s.Save(ctx, p); err != nil {
		return WeatherPreset{}, err
	}
	return p, nil
}
