package locations

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/storage"
)

// failingStore rejects writes once armed.
type failingStore struct {
	*storage.MemoryStore
	failPut bool
}

func (f *failingStore) Put(ctx context.Context, key string, value []byte) error {
	if f.failPut {
		return errors.New("disk full")
	}
	return f.MemoryStore.Put(ctx, key, value)
}

func openStore(t *testing.T, kv storage.Store, limit int) *Store {
	t.Helper()
	s, err := Open(context.Background(), kv, limit, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

// TestOpen_InsertsCurrentLocation verifies that a fresh store holds one selected GPS entry and persists it.
func TestOpen_InsertsCurrentLocation(t *testing.T) {
	kv := storage.NewMemoryStore()
	s := openStore(t, kv, 0)

	list := s.List()
	if len(list) != 1 {
		t.Fatalf("len(List()) = %d, want 1", len(list))
	}
	cur := list[0]
	if !cur.IsCurrentLocation || !cur.IsSelectedForHome || cur.HasCoordinates() {
		t.Errorf("current entry = %+v", cur)
	}
	if cur.DisplayName() != models.CurrentLocationName {
		t.Errorf("DisplayName() = %q", cur.DisplayName())
	}
	if s.Limit() != DefaultLimit {
		t.Errorf("Limit() = %d, want %d", s.Limit(), DefaultLimit)
	}

	var saved []models.TrackedLocation
	if err := storage.GetJSON(context.Background(), kv, StorageKey, &saved); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if len(saved) != 1 || saved[0].ID != cur.ID {
		t.Errorf("saved = %+v", saved)
	}
}

// TestOpen_RepairsSavedList verifies that a saved list without a GPS entry gets one at index 0
// and that a doubled selection is reduced to one.
func TestOpen_RepairsSavedList(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	lat, lon := 48.1, 17.1
	saved := []models.TrackedLocation{
		{ID: "a", CityName: "Bratislava", Latitude: &lat, Longitude: &lon, IsSelectedForHome: true},
		{ID: "b", CityName: "Trnava", Latitude: &lat, Longitude: &lon, IsSelectedForHome: true},
	}
	if err := storage.PutJSON(ctx, kv, StorageKey, saved); err != nil {
		t.Fatal(err)
	}

	s := openStore(t, kv, 10)
	list := s.List()
	if len(list) != 3 || !list[0].IsCurrentLocation {
		t.Fatalf("List() = %+v, want GPS entry first", list)
	}
	if list[0].IsSelectedForHome {
		t.Error("GPS entry selected, want saved selection kept")
	}
	sel, ok := s.Selected()
	if !ok || sel.ID != "a" {
		t.Errorf("Selected() = %+v, %v, want a", sel, ok)
	}
	if list[2].IsSelectedForHome {
		t.Error("second selection not cleared")
	}
}

// TestOpen_CorruptBlob verifies that an undecodable blob starts over with the GPS entry.
func TestOpen_CorruptBlob(t *testing.T) {
	kv := storage.NewMemoryStore()
	_ = kv.Put(context.Background(), StorageKey, []byte("{not json"))

	s := openStore(t, kv, 10)
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
}

// TestStore_Add verifies limits and duplicate rules.
func TestStore_Add(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.NewMemoryStore(), 3)

	first, err := s.AddCity(ctx, "bratislava", 48.14, 17.10)
	if err != nil {
		t.Fatalf("AddCity() error = %v", err)
	}
	if first.ID == "" || first.DateAdded.IsZero() {
		t.Errorf("AddCity() = %+v, want ID and date", first)
	}
	if first.CityName != "Bratislava" {
		t.Errorf("CityName = %q, want Bratislava", first.CityName)
	}

	if _, err := s.AddCity(ctx, "BRATISLAVA", 1, 1); !errors.Is(err, ErrDuplicateLocation) {
		t.Errorf("AddCity(duplicate) error = %v, want ErrDuplicateLocation", err)
	}
	if _, err := s.Add(ctx, models.TrackedLocation{IsCurrentLocation: true}); !errors.Is(err, ErrDuplicateLocation) {
		t.Errorf("Add(second GPS entry) error = %v, want ErrDuplicateLocation", err)
	}
	if _, err := s.AddCity(ctx, models.CurrentLocationName, 1, 1); err != nil {
		t.Errorf("AddCity(GPS name) error = %v, want manual city allowed", err)
	}

	if s.CanAddMore() || s.RemainingSlots() != 0 {
		t.Errorf("CanAddMore() = %v, RemainingSlots() = %d at limit", s.CanAddMore(), s.RemainingSlots())
	}
	_, err = s.AddCity(ctx, "Trnava", 48.37, 17.58)
	if !errors.Is(err, ErrLimitReached) {
		t.Fatalf("AddCity() over limit error = %v, want ErrLimitReached", err)
	}
	if err.Error() != "Maximum of 3 locations reached. Please delete one to add more." {
		t.Errorf("limit message = %q", err.Error())
	}
}

// TestStore_Add_NeverSelected verifies that a new entry does not steal the home selection.
func TestStore_Add_NeverSelected(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.NewMemoryStore(), 10)
	loc, err := s.Add(ctx, models.TrackedLocation{CityName: "Nitra", IsSelectedForHome: true})
	if err != nil {
		t.Fatal(err)
	}
	if loc.IsSelectedForHome {
		t.Error("added entry is selected")
	}
	sel, _ := s.Selected()
	if !sel.IsCurrentLocation {
		t.Errorf("Selected() = %+v, want GPS entry", sel)
	}
}

// TestStore_AddCity_EmptyName verifies that a blank name is rejected.
func TestStore_AddCity_EmptyName(t *testing.T) {
	s := openStore(t, storage.NewMemoryStore(), 10)
	if _, err := s.AddCity(context.Background(), "   ", 1, 1); !errors.Is(err, ErrEmptyName) {
		t.Errorf("AddCity() error = %v, want ErrEmptyName", err)
	}
}

// TestStore_Delete verifies deletion rules and selection fallback.
func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.NewMemoryStore(), 10)
	cur, _ := s.Current()
	city, _ := s.AddCity(ctx, "Senec", 48.22, 17.40)

	if err := s.Delete(ctx, cur.ID); !errors.Is(err, ErrCannotDeleteCurrent) {
		t.Errorf("Delete(current) error = %v, want ErrCannotDeleteCurrent", err)
	}
	if err := s.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.SelectForHome(ctx, city.ID); err != nil {
		t.Fatalf("SelectForHome() error = %v", err)
	}
	if err := s.Delete(ctx, city.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	sel, ok := s.Selected()
	if !ok || sel.ID != cur.ID || !sel.IsSelectedForHome {
		t.Errorf("Selected() = %+v, want current location selected", sel)
	}
}

// TestStore_SelectForHome verifies that exactly one entry is selected afterwards.
func TestStore_SelectForHome(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.NewMemoryStore(), 10)
	var ids []string
	for i := 0; i < 3; i++ {
		loc, err := s.AddCity(ctx, fmt.Sprintf("City %d", i), float64(i), float64(i))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, loc.ID)
	}

	for _, id := range ids {
		if err := s.SelectForHome(ctx, id); err != nil {
			t.Fatalf("SelectForHome(%s) error = %v", id, err)
		}
		selected := 0
		for _, loc := range s.List() {
			if loc.IsSelectedForHome {
				selected++
				if loc.ID != id {
					t.Errorf("selected %s, want %s", loc.ID, id)
				}
			}
		}
		if selected != 1 {
			t.Errorf("%d entries selected, want 1", selected)
		}
	}
	if err := s.SelectForHome(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SelectForHome(missing) error = %v, want ErrNotFound", err)
	}
}

// TestStore_UpdateCurrentLocation verifies that a fix keeps identity, selection and date.
func TestStore_UpdateCurrentLocation(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.NewMemoryStore(), 10)
	before, _ := s.Current()

	after, err := s.UpdateCurrentLocation(ctx, "Senec", 48.22218, 17.39706)
	if err != nil {
		t.Fatalf("UpdateCurrentLocation() error = %v", err)
	}
	if after.ID != before.ID || !after.DateAdded.Equal(before.DateAdded) || !after.IsSelectedForHome {
		t.Errorf("UpdateCurrentLocation() = %+v, want identity of %+v", after, before)
	}
	if after.DisplayName() != "Senec" || after.Coordinates() != (models.Coordinates{Lat: 48.22218, Lon: 17.39706}) {
		t.Errorf("UpdateCurrentLocation() = %+v", after)
	}

	got, _ := s.Get(before.ID)
	if got.CityName != "Senec" {
		t.Errorf("Get() CityName = %q, want Senec", got.CityName)
	}
}

// TestStore_Update_DeselectingHomeFallsBackToCurrent verifies one entry stays
// selected when the home city is updated with its selection cleared.
func TestStore_Update_DeselectingHomeFallsBackToCurrent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.NewMemoryStore(), 10)
	city, _ := s.AddCity(ctx, "Trnava", 48.37, 17.58)
	if err := s.SelectForHome(ctx, city.ID); err != nil {
		t.Fatalf("SelectForHome() error = %v", err)
	}

	city, _ = s.Get(city.ID)
	city.IsSelectedForHome = false
	if err := s.Update(ctx, city); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	selected := 0
	for _, loc := range s.List() {
		if loc.IsSelectedForHome {
			selected++
			if !loc.IsCurrentLocation {
				t.Errorf("selected %q, want the current location", loc.CityName)
			}
		}
	}
	if selected != 1 {
		t.Errorf("selected entries = %d, want 1", selected)
	}
}

// TestStore_Update verifies replacement by ID.
func TestStore_Update(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.NewMemoryStore(), 10)
	a, _ := s.AddCity(ctx, "Nitra", 48.3, 18.1)
	b, _ := s.AddCity(ctx, "Zilina", 49.2, 18.7)

	a.CityName = "Nitra Mesto"
	if err := s.Update(ctx, a); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got, _ := s.Get(a.ID); got.CityName != "Nitra Mesto" {
		t.Errorf("Get().CityName = %q", got.CityName)
	}

	b.CityName = "nitra mesto"
	if err := s.Update(ctx, b); !errors.Is(err, ErrDuplicateLocation) {
		t.Errorf("Update(rename to duplicate) error = %v, want ErrDuplicateLocation", err)
	}

	a.IsCurrentLocation = true
	a.IsSelectedForHome = true
	if err := s.Update(ctx, a); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := s.Get(a.ID)
	if got.IsCurrentLocation {
		t.Error("Update() turned a manual city into the GPS entry")
	}
	if sel, _ := s.Selected(); sel.ID != a.ID {
		t.Errorf("Selected() = %s, want %s", sel.ID, a.ID)
	}

	if err := s.Update(ctx, models.TrackedLocation{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

// TestStore_ClearAll verifies that only the GPS entry survives and is selected.
func TestStore_ClearAll(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, storage.NewMemoryStore(), 10)
	city, _ := s.AddCity(ctx, "Kosice", 48.7, 21.2)
	_ = s.SelectForHome(ctx, city.ID)

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	list := s.List()
	if len(list) != 1 || !list[0].IsCurrentLocation || !list[0].IsSelectedForHome {
		t.Errorf("List() = %+v", list)
	}
	if len(s.Manual()) != 0 {
		t.Errorf("Manual() = %+v, want empty", s.Manual())
	}
}

// TestStore_PersistsAcrossOpen verifies that a reopened store sees the same list.
func TestStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := openStore(t, kv, 10)
	city, _ := s.AddCity(ctx, "Presov", 49.0, 21.2)

	reopened := openStore(t, kv, 10)
	got, err := reopened.Get(city.ID)
	if err != nil || got.CityName != "Presov" {
		t.Errorf("Get() = %+v, %v", got, err)
	}
	if reopened.Count() != 2 {
		t.Errorf("Count() = %d, want 2", reopened.Count())
	}
}

// TestStore_FailedWriteLeavesListUnchanged verifies that mutations are not applied when saving fails.
func TestStore_FailedWriteLeavesListUnchanged(t *testing.T) {
	ctx := context.Background()
	kv := &failingStore{MemoryStore: storage.NewMemoryStore()}
	s := openStore(t, kv, 10)
	kv.failPut = true

	if _, err := s.AddCity(ctx, "Poprad", 49.0, 20.3); err == nil {
		t.Fatal("AddCity() expected error")
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
}

// TestNormalizeCityName verifies whitespace folding and casing.
func TestNormalizeCityName(t *testing.T) {
	tests := map[string]string{
		"  new   york ":   "New York",
		"McAllen":         "McAllen",
		"banská bystrica": "Banská Bystrica",
		"":                "",
	}
	for in, want := range tests {
		if got := NormalizeCityName(in); got != want {
			t.Errorf("NormalizeCityName(%q) = %q, want %q", in, got, want)
		}
	}
}
