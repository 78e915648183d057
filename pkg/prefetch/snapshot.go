package prefetch

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/valyala/bytebufferpool"

	"upsync/pkg/logger"
)

// SnapshotKey is where the cache snapshot lives in the durable store.
const SnapshotKey = "upsync:cache:v1"

type snapshot struct {
	SavedAt time.Time `json:"saved_at"`
	Entries []Entry   `json:"entries"`
}

// persistLocked writes the full cache snapshot through to the store.
// Callers hold c.mu.
func (c *Cache) persistLocked() {
	if c.opts.Store == nil {
		return
	}
	snap := snapshot{SavedAt: c.now().UTC(), Entries: make([]Entry, 0, len(c.entries))}
	for _, e := range c.entries {
		snap.Entries = append(snap.Entries, *e)
	}
	sort.Slice(snap.Entries, func(i, j int) bool {
		if snap.Entries[i].StoredAt.Equal(snap.Entries[j].StoredAt) {
			return snap.Entries[i].Key < snap.Entries[j].Key
		}
		return snap.Entries[i].StoredAt.Before(snap.Entries[j].StoredAt)
	})
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if err := json.NewEncoder(bb).Encode(snap); err != nil {
		logger.Error("cache_snapshot_encode_failed", "error", err)
		return
	}
	c.opts.Store.Set(SnapshotKey, bb.B)
}

// restore loads the snapshot, dropping entries that went stale while
// the process was down and trimming to capacity. Runs before the cache
// is shared, so no lock is held.
func (c *Cache) restore() {
	if c.opts.Store == nil {
		return
	}
	raw, ok := c.opts.Store.Get(SnapshotKey)
	if !ok {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logger.Warn("cache_snapshot_corrupt", "error", err)
		return
	}
	now := c.now()
	var dropped int
	for i := range snap.Entries {
		e := snap.Entries[i]
		if e.Key == "" || now.Sub(e.StoredAt) >= c.opts.MaxAge {
			dropped++
			continue
		}
		cp := e
		c.entries[e.Key] = &cp
	}
	for len(c.entries) > c.opts.MaxEntries {
		c.evictOldestLocked()
	}
	if len(c.entries) > 0 || dropped > 0 {
		logger.Info("cache_snapshot_restored", "entries", len(c.entries), "dropped", dropped)
	}
}
