// Package cache keeps fetched forecasts per tracked location. Entries outlive
// their TTL so the service can fall back to them when Open-Meteo fails.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/daily-brief/internal/models"
)

// DefaultTTL is how long a forecast counts as fresh.
const DefaultTTL = 30 * time.Minute

// DefaultRetention is how long an expired entry is kept for stale fallback.
const DefaultRetention = 24 * time.Hour

// Entry is one cached forecast. Fingerprint identifies the preset it was
// fetched with.
type Entry struct {
	Weather     models.Weather `json:"weather"`
	FetchedAt   time.Time      `json:"fetched_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Fingerprint string         `json:"fingerprint"`
}

// Fresh reports whether the entry is younger than its TTL at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Cache is implemented by every backend. Get only returns fresh entries;
// GetStale returns any retained entry younger than maxAge.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	GetStale(ctx context.Context, key string, maxAge time.Duration) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// InMemoryCache is a mutex-guarded map. Entries past retention are dropped on
// access and by Prune.
type InMemoryCache struct {
	mu        sync.RWMutex
	data      map[string]Entry
	retention time.Duration
	now       func() time.Time
}

func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithRetention(DefaultRetention)
}

func NewInMemoryCacheWithRetention(retention time.Duration) *InMemoryCache {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &InMemoryCache{
		data:      make(map[string]Entry),
		retention: retention,
		now:       time.Now,
	}
}

// expired reports whether an entry can be dropped. A fresh entry is kept even
// when retention is shorter than its TTL.
func expired(e Entry, now time.Time, retention time.Duration) bool {
	return !e.Fresh(now) && e.Age(now) >= retention
}

func (c *InMemoryCache) lookup(key string) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if expired(entry, c.now(), c.retention) {
		c.mu.Lock()
		if cur, ok := c.data[key]; ok && cur.FetchedAt.Equal(entry.FetchedAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return Entry{}, false
	}
	return entry, true
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	entry, ok := c.lookup(key)
	if !ok || !entry.Fresh(c.now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxAge time.Duration) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	entry, ok := c.lookup(key)
	if !ok || entry.Age(c.now()) >= maxAge {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Set stores entry. ExpiresAt is derived from FetchedAt (or now) plus ttl.
func (c *InMemoryCache) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = c.now()
	}
	entry.ExpiresAt = entry.FetchedAt.Add(ttl)
	c.mu.Lock()
	c.data[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
	return nil
}

func (c *InMemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.data = make(map[string]Entry)
	c.mu.Unlock()
	return nil
}

// Prune drops expired entries past retention and returns how many were removed.
func (c *InMemoryCache) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.data {
		if expired(e, now, c.retention) {
			delete(c.data, k)
			n++
		}
	}
	return n
}

// Snapshot copies every retained entry, keyed as stored.
func (c *InMemoryCache) Snapshot() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry, len(c.data))
	for k, e := range c.data {
		out[k] = e
	}
	return out
}

func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
