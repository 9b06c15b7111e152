package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/daily-brief/internal/models"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestCache(now *time.Time) *InMemoryCache {
	c := NewInMemoryCacheWithRetention(2 * time.Hour)
	c.now = func() time.Time { return *now }
	return c
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	now := t0
	c := newTestCache(&now)

	entry := Entry{Weather: models.Weather{Location: "Senec"}, FetchedAt: t0, Fingerprint: "abc"}
	if err := c.Set(ctx, "loc-1", entry, 30*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "loc-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Weather.Location != "Senec" || got.Fingerprint != "abc" {
		t.Errorf("Get() = %+v", got)
	}
	if !got.ExpiresAt.Equal(t0.Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, t0.Add(30*time.Minute))
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	now := t0
	c := newTestCache(&now)
	_, ok, err := c.Get(context.Background(), "missing")
	if err != nil || ok {
		t.Errorf("Get() = ok %v, err %v, want miss", ok, err)
	}
}

// TestInMemoryCache_TTLBoundary verifies that an entry is fresh strictly before its TTL elapses.
func TestInMemoryCache_TTLBoundary(t *testing.T) {
	ctx := context.Background()
	now := t0
	c := newTestCache(&now)
	_ = c.Set(ctx, "k", Entry{FetchedAt: t0}, 30*time.Minute)

	now = t0.Add(30*time.Minute - time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Error("Get() just before TTL ok = false, want true")
	}
	now = t0.Add(30 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() at TTL ok = true, want false")
	}
}

// TestInMemoryCache_GetStale verifies that expired entries remain available up to maxAge.
func TestInMemoryCache_GetStale(t *testing.T) {
	ctx := context.Background()
	now := t0
	c := newTestCache(&now)
	_ = c.Set(ctx, "k", Entry{FetchedAt: t0, Weather: models.Weather{Location: "Senec"}}, 30*time.Minute)

	now = t0.Add(45 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("Get() on expired entry ok = true")
	}
	got, ok, err := c.GetStale(ctx, "k", time.Hour)
	if err != nil || !ok || got.Weather.Location != "Senec" {
		t.Errorf("GetStale(1h) = %+v, %v, %v", got, ok, err)
	}
	if _, ok, _ := c.GetStale(ctx, "k", 40*time.Minute); ok {
		t.Error("GetStale(40m) ok = true for 45m old entry")
	}
}

// TestInMemoryCache_Retention verifies that entries past retention are dropped.
func TestInMemoryCache_Retention(t *testing.T) {
	ctx := context.Background()
	now := t0
	c := newTestCache(&now)
	_ = c.Set(ctx, "old", Entry{FetchedAt: t0}, time.Minute)
	_ = c.Set(ctx, "new", Entry{FetchedAt: t0.Add(90 * time.Minute)}, time.Minute)

	now = t0.Add(2 * time.Hour)
	if _, ok, _ := c.GetStale(ctx, "old", 24*time.Hour); ok {
		t.Error("GetStale() returned entry past retention")
	}
	if n := c.Prune(); n != 0 {
		t.Errorf("Prune() = %d, want 0 after lazy removal", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}

	now = t0.Add(4 * time.Hour)
	if n := c.Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
}

// TestInMemoryCache_RetentionShorterThanTTL verifies a fresh entry is never
// dropped by a short retention.
func TestInMemoryCache_RetentionShorterThanTTL(t *testing.T) {
	ctx := context.Background()
	now := t0
	c := NewInMemoryCacheWithRetention(10 * time.Minute)
	c.now = func() time.Time { return now }
	_ = c.Set(ctx, "k", Entry{FetchedAt: t0}, 30*time.Minute)

	now = t0.Add(15 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("Get() missed an entry within its TTL")
	}
	if n := c.Prune(); n != 0 {
		t.Errorf("Prune() = %d, want 0 while fresh", n)
	}

	now = t0.Add(31 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() returned an expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 once expired and past retention", c.Len())
	}
}

// TestInMemoryCache_SetDefaultsFetchedAt verifies that a zero FetchedAt is stamped with now.
func TestInMemoryCache_SetDefaultsFetchedAt(t *testing.T) {
	ctx := context.Background()
	now := t0
	c := newTestCache(&now)
	_ = c.Set(ctx, "k", Entry{}, time.Minute)
	got, ok, _ := c.Get(ctx, "k")
	if !ok || !got.FetchedAt.Equal(t0) {
		t.Errorf("Get() = %+v, %v", got, ok)
	}
}

// TestInMemoryCache_DeleteClear verifies removal of one and all entries.
func TestInMemoryCache_DeleteClear(t *testing.T) {
	ctx := context.Background()
	now := t0
	c := newTestCache(&now)
	for _, k := range []string{"a", "b", "c"} {
		_ = c.Set(ctx, k, Entry{FetchedAt: t0}, time.Minute)
	}

	_ = c.Delete(ctx, "a")
	if _, ok, _ := c.GetStale(ctx, "a", time.Hour); ok {
		t.Error("deleted entry still present")
	}
	if snap := c.Snapshot(); len(snap) != 2 {
		t.Errorf("Snapshot() has %d entries, want 2", len(snap))
	}

	_ = c.Clear(ctx)
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
}

// TestInMemoryCache_CanceledContext verifies that reads and writes honor cancellation.
func TestInMemoryCache_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewInMemoryCache()
	if err := c.Set(ctx, "k", Entry{}, time.Minute); err == nil {
		t.Error("Set() with canceled context error = nil")
	}
	if _, _, err := c.Get(ctx, "k"); err == nil {
		t.Error("Get() with canceled context error = nil")
	}
}

// TestInMemoryCache_Concurrent verifies that concurrent access is safe under -race.
func TestInMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []string{"a", "b", "c"}[i%3]
			_ = c.Set(ctx, key, Entry{}, time.Minute)
			_, _, _ = c.Get(ctx, key)
			_, _, _ = c.GetStale(ctx, key, time.Hour)
			if i%5 == 0 {
				_ = c.Delete(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}

// TestMemcachedCache_key verifies the prefix and that unsafe characters are replaced.
func TestMemcachedCache_key(t *testing.T) {
	c, err := NewMemcachedCache("", time.Second, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.key("city:new york"); got != "weather:city:new_york" {
		t.Errorf("key() = %q", got)
	}
}

// TestParseAddrs verifies comma-separated server lists.
func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" a:1, ,b:2 ")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Errorf("parseAddrs() = %v", got)
	}
	if got := parseAddrs(""); len(got) != 0 {
		t.Errorf("parseAddrs(\"\") = %v", got)
	}
}
