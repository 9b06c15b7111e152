package countdown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/observability"
	"github.com/kjstillabower/daily-brief/internal/storage"
)

// StorageKey is the key-value key holding the JSON array of countdowns.
const StorageKey = "countdowns"

const DefaultLimit = 20

var (
	ErrLimitReached = errors.New("countdown limit reached")
	ErrNotFound     = errors.New("countdown not found")
	ErrNameRequired = errors.New("countdown name is required")
	ErrInvalidDate  = errors.New("date must be YYYY-MM-DD")
)

// LimitError carries the configured limit. It matches ErrLimitReached.
type LimitError struct {
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("Maximum of %d countdowns reached. Please delete one to add more.", e.Limit)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimitReached
}

// Store persists countdowns. Only the user's input is saved; derived fields
// are recomputed on every read.
type Store struct {
	mu     sync.RWMutex
	kv     storage.Store
	logger *zap.Logger
	limit  int
	items  []models.Countdown
	now    func() time.Time
}

func Open(ctx context.Context, kv storage.Store, limit int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	s := &Store{kv: kv, logger: logger, limit: limit, now: time.Now}

	var saved []models.Countdown
	err := storage.GetJSON(ctx, kv, StorageKey, &saved)
	switch {
	case err == nil:
		s.items = saved
	case errors.Is(err, storage.ErrNotFound):
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		logger.Warn("load countdowns failed, starting empty", zap.Error(err))
	}
	observability.CountdownsGauge.Set(float64(len(s.items)))
	return s, nil
}

func (s *Store) Limit() int { return s.limit }

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

func validate(name, date string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return name, nil
}

// Add stores a new countdown and returns it evaluated against today.
func (s *Store) Add(ctx context.Context, name, date string, yearly bool) (models.Countdown, error) {
	name, err := validate(name, date)
	if err != nil {
		return models.Countdown{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) >= s.limit {
		return models.Countdown{}, &LimitError{Limit: s.limit}
	}

	c := models.Countdown{
		ID:        uuid.NewString(),
		Name:      name,
		Date:      date,
		Yearly:    yearly,
		CreatedAt: s.now().UTC(),
	}
	next := append(append([]models.Countdown(nil), s.items...), c)
	if err := s.commit(ctx, next); err != nil {
		return models.Countdown{}, err
	}
	return Evaluate(c, s.now()), nil
}

// Update changes name, date and the yearly flag of an existing countdown.
func (s *Store) Update(ctx context.Context, c models.Countdown) (models.Countdown, error) {
	name, err := validate(c.Name, c.Date)
	if err != nil {
		return models.Countdown{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(c.ID)
	if i < 0 {
		return models.Countdown{}, ErrNotFound
	}
	next := append([]models.Countdown(nil), s.items...)
	next[i].Name = name
	next[i].Date = c.Date
	next[i].Yearly = c.Yearly
	if err := s.commit(ctx, next); err != nil {
		return models.Countdown{}, err
	}
	return Evaluate(next[i], s.now()), nil
}

func (s *Store) Get(id string, now time.Time) (models.Countdown, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return Evaluate(s.items[i], now), nil
	}
	return models.Countdown{}, ErrNotFound
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	next := make([]models.Countdown, 0, len(s.items)-1)
	next = append(next, s.items[:i]...)
	next = append(next, s.items[i+1:]...)
	return s.commit(ctx, next)
}

func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, []models.Countdown{})
}

// List evaluates every countdown against now, sorted upcoming first.
func (s *Store) List(now time.Time) []models.Countdown {
	s.mu.RLock()
	out := make([]models.Countdown, len(s.items))
	for i, c := range s.items {
		out[i] = Evaluate(c, now)
	}
	s.mu.RUnlock()
	Sort(out)
	return out
}

// Upcoming returns at most n countdowns that are not in the past.
func (s *Store) Upcoming(now time.Time, n int) []models.Countdown {
	out := []models.Countdown{}
	for _, c := range s.List(now) {
		if len(out) >= n {
			break
		}
		if !c.IsPast {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) commit(ctx context.Context, next []models.Countdown) error {
	if err := storage.PutJSON(ctx, s.kv, StorageKey, next); err != nil {
		return fmt.Errorf("save countdowns: %w", err)
	}
	s.items = next
	observability.CountdownsGauge.Set(float64(len(next)))
	return nil
}

func (s *Store) indexOf(id string) int {
	for i, c := range s.items {
		if c.ID == id {
			return i
		}
	}
	return -1
}
