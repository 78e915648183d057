package syncq

import (
	"encoding/json"
	"time"

	"github.com/valyala/bytebufferpool"

	"upsync/pkg/logger"
)

// SnapshotKey is the single namespaced store key the queue persists
// under.
const SnapshotKey = "upsync:queue:v1"

type snapshot struct {
	SavedAt time.Time `json:"saved_at"`
	Items   []Item    `json:"items"`
}

// persistLocked writes the full queue state through the store adapter.
// Callers hold q.mu. Storage trouble degrades to a logged warning inside
// the adapter; the queue never fails a mutation over it.
func (q *Queue) persistLocked() {
	if q.opts.Store == nil {
		return
	}
	snap := snapshot{SavedAt: q.now().UTC(), Items: make([]Item, 0, len(q.order))}
	for _, id := range q.order {
		snap.Items = append(snap.Items, *q.items[id])
	}
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if err := json.NewEncoder(bb).Encode(&snap); err != nil {
		logger.Warn("queue_snapshot_encode_failed", "error", err)
		return
	}
	q.opts.Store.Set(SnapshotKey, bb.B)
}

// restore loads the last snapshot. Interrupted executions roll back to
// pending so they are attempted again; executors are rebound through
// Options.Exec since capabilities are never serialized.
func (q *Queue) restore() {
	if q.opts.Store == nil {
		return
	}
	b, ok := q.opts.Store.Get(SnapshotKey)
	if !ok {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		logger.Warn("queue_snapshot_decode_failed", "error", err)
		return
	}
	for _, it := range snap.Items {
		if it.ID == "" {
			continue
		}
		if _, dup := q.items[it.ID]; dup {
			continue
		}
		switch it.Status {
		case StatusSyncing:
			it.Status = StatusPending
		case StatusCompleted:
			continue
		}
		cp := it
		cp.ticket = newTicket(cp.ID)
		q.items[cp.ID] = &cp
		q.order = append(q.order, cp.ID)
	}
	if len(q.order) > 0 {
		logger.Info("queue_snapshot_restored", "items", len(q.order))
	}
}
