package countdown

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/storage"
)

func openStore(t *testing.T, kv storage.Store, limit int) *Store {
	t.Helper()
	s, err := Open(context.Background(), kv, limit, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.now = func() time.Time { return today }
	return s
}

// TestStore_Add verifies validation and the evaluated result.
func TestStore_Add(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.NewMemoryStore(), 0)

	c, err := s.Add(ctx, "  Trip ", "2026-03-05", false)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if c.ID == "" || c.Name != "Trip" || c.DaysLeft != 3 || c.Message != "3 days until Trip" {
		t.Errorf("Add() = %+v", c)
	}
	if !c.CreatedAt.Equal(today) {
		t.Errorf("CreatedAt = %v, want %v", c.CreatedAt, today)
	}

	if _, err := s.Add(ctx, " ", "2026-03-05", false); !errors.Is(err, ErrNameRequired) {
		t.Errorf("Add(blank name) error = %v, want ErrNameRequired", err)
	}
	for _, bad := range []string{"", "2026-3-5", "2026-02-30", "tomorrow"} {
		if _, err := s.Add(ctx, "X", bad, false); !errors.Is(err, ErrInvalidDate) {
			t.Errorf("Add(date %q) error = %v, want ErrInvalidDate", bad, err)
		}
	}
}

// TestStore_Limit verifies the maximum count and its message.
func TestStore_Limit(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.NewMemoryStore(), 0)
	for i := 0; i < DefaultLimit; i++ {
		if _, err := s.Add(ctx, fmt.Sprintf("Event %d", i), "2026-04-01", false); err != nil {
			t.Fatalf("Add(%d) error = %v", i, err)
		}
	}
	if s.CanAddMore() || s.RemainingSlots() != 0 {
		t.Errorf("CanAddMore() = %v, RemainingSlots() = %d", s.CanAddMore(), s.RemainingSlots())
	}
	_, err := s.Add(ctx, "One more", "2026-04-01", false)
	if !errors.Is(err, ErrLimitReached) {
		t.Fatalf("Add() error = %v, want ErrLimitReached", err)
	}
	if err.Error() != "Maximum of 20 countdowns reached. Please delete one to add more." {
		t.Errorf("message = %q", err.Error())
	}
}

// TestStore_UpdateDelete verifies edits and removal by ID.
func TestStore_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.NewMemoryStore(), 0)
	c, _ := s.Add(ctx, "Concert", "2026-03-10", false)

	c.Name = "Concert (moved)"
	c.Date = "2026-03-03"
	updated, err := s.Update(ctx, c)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Message != "Concert (moved) is tomorrow" {
		t.Errorf("Update() message = %q", updated.Message)
	}
	if _, err := s.Update(ctx, models.Countdown{ID: "missing", Name: "X", Date: "2026-01-01"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
	c.Date = "bad"
	if _, err := s.Update(ctx, c); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("Update(bad date) error = %v, want ErrInvalidDate", err)
	}

	if err := s.Delete(ctx, c.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(c.ID, today); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

// TestStore_ListAndUpcoming verifies sorting and the upcoming cut.
func TestStore_ListAndUpcoming(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.NewMemoryStore(), 0)
	_, _ = s.Add(ctx, "Past", "2026-01-01", false)
	_, _ = s.Add(ctx, "Far", "2026-12-24", false)
	_, _ = s.Add(ctx, "Birthday", "1988-03-04", true)
	_, _ = s.Add(ctx, "Today", "2026-03-02", false)

	list := s.List(today)
	names := make([]string, len(list))
	for i, c := range list {
		names[i] = c.Name
	}
	want := []string{"Today", "Birthday", "Far", "Past"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("List() order = %v, want %v", names, want)
		}
	}

	up := s.Upcoming(today, 2)
	if len(up) != 2 || up[0].Name != "Today" || up[1].Name != "Birthday" {
		t.Errorf("Upcoming(2) = %+v", up)
	}
	if got := s.Upcoming(today, 10); len(got) != 3 {
		t.Errorf("len(Upcoming(10)) = %d, want 3", len(got))
	}
	if got := s.Upcoming(today, 0); got == nil || len(got) != 0 {
		t.Errorf("Upcoming(0) = %v, want empty slice", got)
	}
}

// TestStore_PersistsInputOnly verifies that reopening keeps countdowns and re-derives fields.
func TestStore_PersistsInputOnly(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := openStore(t, kv, 0)
	c, _ := s.Add(ctx, "Trip", "2026-03-05", false)

	reopened := openStore(t, kv, 0)
	later := today.AddDate(0, 0, 2)
	got, err := reopened.Get(c.ID, later)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DaysLeft != 1 || got.Message != "Trip is tomorrow" {
		t.Errorf("Get() = %+v, want re-evaluated against later day", got)
	}
}

// TestStore_ClearAll verifies that every countdown is removed.
func TestStore_ClearAll(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.NewMemoryStore(), 0)
	_, _ = s.Add(ctx, "A", "2026-05-01", false)
	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if got := s.List(today); len(got) != 0 {
		t.Errorf("List() = %+v, want empty", got)
	}
	if s.RemainingSlots() != DefaultLimit {
		t.Errorf("RemainingSlots() = %d", s.RemainingSlots())
	}
}

// TestOpen_CorruptBlob verifies that undecodable data starts empty.
func TestOpen_CorruptBlob(t *testing.T) {
	kv := storage.NewMemoryStore()
	_ = kv.Put(context.Background(), StorageKey, []byte("[{"))
	s := openStore(t, kv, 0)
	if len(s.List(today)) != 0 {
		t.Error("List() not empty")
	}
}
