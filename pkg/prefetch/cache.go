package prefetch

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"upsync/pkg/logger"
	"upsync/pkg/store"
	"upsync/pkg/telemetry"
)

const (
	DefaultMaxAge        = 5 * time.Minute
	DefaultMaxEntries    = 128
	DefaultSweepInterval = 60 * time.Second
)

var ErrClosed = errors.New("prefetch: cache closed")

// Entry is one cached remote read. Values are JSON documents and
// immutable once stored; age is measured from StoredAt.
type Entry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
}

// CacheStatus is the observable state surfaced to the admin API.
type CacheStatus struct {
	CacheSize     int  `json:"cache_size"`
	IsPrefetching bool `json:"is_prefetching"`
}

// Options configures a Cache. Zero values take the defaults above.
type Options struct {
	MaxAge        time.Duration
	MaxEntries    int
	SweepInterval time.Duration
	MaxValueSize  int64 // 0 = unlimited

	// Store persists the cache snapshot on every mutation. Nil runs the
	// cache memory-only.
	Store store.KV

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Cache is a read-through prefetch cache: bounded, TTL-based, with
// deduplicated fetches. Expired entries are dropped by a periodic sweep;
// capacity pressure evicts the oldest entry first.
type Cache struct {
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	entries  map[string]*Entry
	inflight map[string]*call
	lazy     map[*time.Timer]struct{}
	closed   bool
	started  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Cache and restores its snapshot when a store is
// configured. Call Start to launch the sweep loop.
func New(opts Options) *Cache {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	c := &Cache{
		opts:     opts,
		now:      opts.Now,
		entries:  make(map[string]*Entry),
		inflight: make(map[string]*call),
		lazy:     make(map[*time.Timer]struct{}),
		stop:     make(chan struct{}),
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.restore()
	c.mu.Lock()
	telemetry.SetCacheEntries(len(c.entries))
	c.mu.Unlock()
	return c
}

// Start launches the expiry sweep loop.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	c.wg.Add(1)
	go c.run(ctx)
}

func (c *Cache) run(ctx context.Context) {
	defer c.wg.Done()
	t := time.NewTicker(c.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-t.C:
			if n := c.Sweep(); n > 0 {
				logger.Debug("cache_swept", "removed", n)
			}
		}
	}
}

// Get returns a copy of the value for key if a fresh entry exists.
// Stale entries are never served.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.freshLocked(e) {
		v := append([]byte(nil), e.Value...)
		c.mu.Unlock()
		telemetry.IncCacheHit()
		return v, true
	}
	c.mu.Unlock()
	telemetry.IncCacheMiss()
	return nil, false
}

// Set stores a value with a fresh timestamp, evicting the oldest
// entries when the cache is full, and reports whether the value was
// stored. Values that are not JSON documents or exceed the size cap
// are dropped with a warning rather than an error.
func (c *Cache) Set(key string, value []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	stored := c.storeLocked(key, value)
	if stored {
		c.persistLocked()
	}
	c.mu.Unlock()
	return stored
}

// storeLocked validates and inserts one entry, reporting whether the
// cache changed.
func (c *Cache) storeLocked(key string, value []byte) bool {
	if !json.Valid(value) {
		logger.Warn("cache_value_not_json", "key", key)
		return false
	}
	if c.opts.MaxValueSize > 0 && int64(len(value)) > c.opts.MaxValueSize {
		logger.Warn("cache_value_too_large", "key", key, "size", len(value))
		return false
	}
	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.opts.MaxEntries {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = &Entry{
		Key:      key,
		Value:    append(json.RawMessage(nil), value...),
		StoredAt: c.now().UTC(),
	}
	telemetry.SetCacheEntries(len(c.entries))
	return true
}

func (c *Cache) evictOldestLocked() {
	var oldest string
	var at time.Time
	for k, e := range c.entries {
		if oldest == "" || e.StoredAt.Before(at) {
			oldest, at = k, e.StoredAt
		}
	}
	if oldest == "" {
		return
	}
	delete(c.entries, oldest)
	telemetry.IncCacheEviction("capacity")
	logger.Debug("cache_evicted", "key", oldest)
}

func (c *Cache) freshLocked(e *Entry) bool {
	return c.now().Sub(e.StoredAt) < c.opts.MaxAge
}

// Invalidate removes key and reports whether it was present.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		c.persistLocked()
		telemetry.SetCacheEntries(len(c.entries))
	}
	c.mu.Unlock()
	return ok
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*Entry)
	c.persistLocked()
	telemetry.SetCacheEntries(0)
	c.mu.Unlock()
	logger.Info("cache_cleared", "removed", n)
}

// Sweep drops expired entries and reports how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	var n int
	for k, e := range c.entries {
		if !c.freshLocked(e) {
			delete(c.entries, k)
			telemetry.IncCacheEviction("expired")
			n++
		}
	}
	if n > 0 {
		c.persistLocked()
		telemetry.SetCacheEntries(len(c.entries))
	}
	c.mu.Unlock()
	return n
}

// Entries returns copies of all entries, oldest first.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		cp := *e
		cp.Value = append(json.RawMessage(nil), e.Value...)
		out = append(out, cp)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StoredAt.Equal(out[j].StoredAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].StoredAt.Before(out[j].StoredAt)
	})
	return out
}

// Status reports the cache's current size and fetch activity.
func (c *Cache) Status() CacheStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStatus{
		CacheSize:     len(c.entries),
		IsPrefetching: len(c.inflight) > 0,
	}
}

// Close stops the sweep loop and cancels pending lazy fetches. A fetch
// already in flight completes but its result is not stored.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	timers := c.lazy
	c.lazy = nil
	c.mu.Unlock()
	for t := range timers {
		t.Stop()
	}
	close(c.stop)
	c.wg.Wait()
}
