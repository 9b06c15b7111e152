package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "weather:"

// maxRelativeExp is the largest relative expiration memcached accepts (30 days).
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache stores JSON-encoded entries in memcached. Items live for the
// retention period; freshness is judged from the stored ExpiresAt.
type MemcachedCache struct {
	client    *memcache.Client
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	written map[string]struct{}
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{
		client:    client,
		retention: DefaultRetention,
		now:       time.Now,
		written:   make(map[string]struct{}),
	}, nil
}

// SetRetention changes how long items stay in memcached after they are written.
func (c *MemcachedCache) SetRetention(d time.Duration) {
	if d > 0 {
		c.retention = d
	}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key keeps memcached keys free of spaces and control characters.
func (c *MemcachedCache) key(k string) string {
	return keyPrefix + strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, k)
}

func (c *MemcachedCache) load(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var entry Entry
	if err := json.Unmarshal(item.Value, &entry); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Get returns false, nil on a miss or an expired entry; false, err on backend errors.
func (c *MemcachedCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	entry, ok, err := c.load(ctx, key)
	if err != nil || !ok || !entry.Fresh(c.now()) {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (c *MemcachedCache) GetStale(ctx context.Context, key string, maxAge time.Duration) (Entry, bool, error) {
	entry, ok, err := c.load(ctx, key)
	if err != nil || !ok || entry.Age(c.now()) >= maxAge {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (c *MemcachedCache) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = c.now()
	}
	entry.ExpiresAt = entry.FetchedAt.Add(ttl)
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	keep := c.retention
	if ttl > keep {
		keep = ttl
	}
	expSec := int32(keep.Seconds())
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600 // fallback 1h if invalid
	}
	if err := c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expSec,
	}); err != nil {
		return err
	}
	c.mu.Lock()
	c.written[key] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *MemcachedCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.written, key)
	c.mu.Unlock()
	if err := c.client.Delete(c.key(key)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	return nil
}

// Clear deletes the keys this process has written. Other writers sharing the
// memcached cluster are left alone.
func (c *MemcachedCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.written))
	for k := range c.written {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	var errs []error
	for _, k := range keys {
		if err := c.Delete(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Keys returns the keys written by this process.
func (c *MemcachedCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.written))
	for k := range c.written {
		out = append(out, k)
	}
	return out
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
