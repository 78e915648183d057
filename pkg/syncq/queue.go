package syncq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"upsync/pkg/logger"
	"upsync/pkg/netmon"
	"upsync/pkg/store"
	"upsync/pkg/telemetry"
)

const (
	DefaultBatchSize       = 3
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = time.Second
	DefaultJitter          = 0.2
	DefaultOnlineInterval  = 30 * time.Second
	DefaultOfflineInterval = 60 * time.Second
)

// Options configures a Queue. Zero values take the defaults above;
// Jitter < 0 disables jitter.
type Options struct {
	BatchSize       int
	MaxRetries      int
	RetryDelay      time.Duration
	Jitter          float64
	MaxItems        int // 0 = unbounded
	OnlineInterval  time.Duration
	OfflineInterval time.Duration

	// Store persists the queue snapshot on every mutation. Nil runs the
	// queue memory-only.
	Store store.KV
	// Monitor gates processing on connectivity. Nil means always online.
	Monitor netmon.Monitor
	// Exec runs items that carry no executor of their own, e.g. items
	// restored from a snapshot.
	Exec ExecFunc
	// Limiter paces execution starts within a pass.
	Limiter *rate.Limiter

	// Observer hooks for terminal outcomes. Panics in hooks are
	// recovered and logged.
	OnCompleted func(Item)
	OnFailed    func(Item, error)

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Queue is a durable outbound write queue. Items drain to the upstream in
// insertion order with bounded per-pass concurrency, exponential backoff
// and a retry ceiling; exhausted items are retained as failed. At most
// one processing pass runs at a time.
type Queue struct {
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	items    map[string]*Item
	order    []string
	lastSync time.Time
	closed   bool
	started  bool

	processing int32
	seq        uint64

	kick  chan struct{}
	stop  chan struct{}
	wg    sync.WaitGroup
	unsub func()
}

// New builds a Queue and restores its snapshot when a store is
// configured. Call Start to launch the drain loop.
func New(opts Options) *Queue {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Jitter == 0 {
		opts.Jitter = DefaultJitter
	} else if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	if opts.MaxItems < 0 {
		opts.MaxItems = 0
	}
	if opts.OnlineInterval <= 0 {
		opts.OnlineInterval = DefaultOnlineInterval
	}
	if opts.OfflineInterval <= 0 {
		opts.OfflineInterval = DefaultOfflineInterval
	}
	q := &Queue{
		opts:  opts,
		now:   opts.Now,
		items: make(map[string]*Item),
		kick:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	if q.now == nil {
		q.now = time.Now
	}
	q.restore()
	q.mu.Lock()
	q.updateGaugesLocked()
	q.mu.Unlock()
	return q
}

// Start launches the drain loop and subscribes to connectivity
// transitions. The offline-to-online transition kicks an immediate pass
// from inside the notification call stack.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started || q.closed {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	if q.opts.Monitor != nil {
		q.unsub = q.opts.Monitor.Subscribe(func(online bool) {
			logger.Info("connectivity_changed", "online", online)
			if online {
				q.SyncNow()
			}
		})
	}
	q.wg.Add(1)
	go q.run(ctx)
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		timer := time.NewTimer(q.nextWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.stop:
			timer.Stop()
			return
		case <-q.kick:
			timer.Stop()
		case <-timer.C:
		}
		q.Process(ctx)
	}
}

// nextWait returns how long the drain loop should sleep before the next
// pass: the poll interval, shortened to the earliest scheduled retry.
func (q *Queue) nextWait() time.Duration {
	if !q.online() {
		return q.opts.OfflineInterval
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	wait := q.opts.OnlineInterval
	now := q.now()
	for _, id := range q.order {
		switch it := q.items[id]; it.Status {
		case StatusPending:
			return 0
		case StatusRetrying:
			d := it.NextAttemptAt.Sub(now)
			if d < 0 {
				d = 0
			}
			if d < wait {
				wait = d
			}
		}
	}
	return wait
}

// SyncNow requests an immediate processing pass. It never blocks;
// repeated calls coalesce.
func (q *Queue) SyncNow() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Enqueue appends an operation and returns its result ticket. The
// payload must be a JSON document (or empty); it is copied and immutable
// afterwards. exec may be nil when the queue carries a default executor.
func (q *Queue) Enqueue(typ string, payload []byte, exec ExecFunc) (*Ticket, error) {
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, fmt.Errorf("syncq: payload is not valid JSON")
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	if q.opts.MaxItems > 0 && len(q.items) >= q.opts.MaxItems {
		q.mu.Unlock()
		return nil, ErrQueueFull
	}
	id := fmt.Sprintf("op-%d-%06d", q.now().UnixNano(), atomic.AddUint64(&q.seq, 1))
	it := &Item{
		ID:         id,
		Type:       typ,
		Payload:    append(json.RawMessage(nil), payload...),
		Status:     StatusPending,
		EnqueuedAt: q.now().UTC(),
		exec:       exec,
		ticket:     newTicket(id),
	}
	q.items[id] = it
	q.order = append(q.order, id)
	q.persistLocked()
	q.updateGaugesLocked()
	t := it.ticket
	q.mu.Unlock()

	logger.Debug("item_enqueued", "id", id, "type", typ)
	q.SyncNow()
	return t, nil
}

// Remove drops an item regardless of status and resolves its ticket with
// ErrRemoved. An execution already in flight finishes but its outcome is
// discarded.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	it, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	q.removeLocked(id)
	q.persistLocked()
	q.updateGaugesLocked()
	q.mu.Unlock()
	it.ticket.resolve(ErrRemoved)
	logger.Debug("item_removed", "id", id)
	return true
}

// Clear empties the queue, failed items included, resolving outstanding
// tickets with ErrRemoved. No scheduled retry survives a clear.
func (q *Queue) Clear() {
	q.mu.Lock()
	removed := make([]*Item, 0, len(q.order))
	for _, id := range q.order {
		removed = append(removed, q.items[id])
	}
	q.items = make(map[string]*Item)
	q.order = nil
	q.persistLocked()
	q.updateGaugesLocked()
	q.mu.Unlock()
	for _, it := range removed {
		it.ticket.resolve(ErrRemoved)
	}
	logger.Info("queue_cleared", "removed", len(removed))
}

// Retry resets a failed item to pending with a fresh attempt budget and
// returns its new ticket.
func (q *Queue) Retry(id string) (*Ticket, error) {
	q.mu.Lock()
	it, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return nil, ErrNotFound
	}
	if it.Status != StatusFailed {
		q.mu.Unlock()
		return nil, ErrNotFailed
	}
	it.Status = StatusPending
	it.Attempts = 0
	it.LastError = ""
	it.NextAttemptAt = time.Time{}
	it.ticket = newTicket(id)
	t := it.ticket
	q.persistLocked()
	q.updateGaugesLocked()
	q.mu.Unlock()

	logger.Info("item_retry_requested", "id", id)
	q.SyncNow()
	return t, nil
}

// PruneFailed removes failed items whose last attempt is older than the
// cutoff and reports how many were dropped.
func (q *Queue) PruneFailed(olderThan time.Duration) int {
	cutoff := q.now().Add(-olderThan)
	q.mu.Lock()
	var n int
	for _, id := range append([]string(nil), q.order...) {
		it := q.items[id]
		if it.Status == StatusFailed && it.LastAttemptAt.Before(cutoff) {
			q.removeLocked(id)
			n++
		}
	}
	if n > 0 {
		q.persistLocked()
		q.updateGaugesLocked()
	}
	q.mu.Unlock()
	if n > 0 {
		logger.Info("failed_items_pruned", "count", n)
	}
	return n
}

// Items returns point-in-time copies of all retained items in insertion
// order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.order))
	for _, id := range q.order {
		cp := *q.items[id]
		cp.Payload = append(json.RawMessage(nil), cp.Payload...)
		cp.exec = nil
		cp.ticket = nil
		out = append(out, cp)
	}
	return out
}

// Status reports the queue's current counts and processing state.
func (q *Queue) Status() QueueStatus {
	syncing := atomic.LoadInt32(&q.processing) == 1
	q.mu.Lock()
	defer q.mu.Unlock()
	st := QueueStatus{
		QueueLength:  len(q.items),
		IsSyncing:    syncing,
		LastSyncTime: q.lastSync,
	}
	for _, it := range q.items {
		if it.Status == StatusFailed {
			st.FailedCount++
		} else {
			st.PendingCount++
		}
	}
	return st
}

// Process runs one pass: select up to BatchSize eligible items in
// insertion order, execute them concurrently, settle outcomes. It
// reports whether work was attempted. Concurrent calls collapse to a
// single pass; while offline or after Close it is a no-op.
func (q *Queue) Process(ctx context.Context) bool {
	if !atomic.CompareAndSwapInt32(&q.processing, 0, 1) {
		return false
	}
	defer atomic.StoreInt32(&q.processing, 0)

	if !q.online() {
		return false
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	now := q.now()
	var batch []*Item
	for _, id := range q.order {
		if len(batch) >= q.opts.BatchSize {
			break
		}
		it := q.items[id]
		eligible := it.Status == StatusPending ||
			(it.Status == StatusRetrying && !it.NextAttemptAt.After(now))
		if !eligible {
			continue
		}
		it.Status = StatusSyncing
		it.LastAttemptAt = now
		batch = append(batch, it)
	}
	if len(batch) == 0 {
		q.mu.Unlock()
		return false
	}
	q.persistLocked()
	q.mu.Unlock()

	var wg sync.WaitGroup
	for _, it := range batch {
		wg.Add(1)
		go func(it *Item) {
			defer wg.Done()
			if q.opts.Limiter != nil {
				if err := q.opts.Limiter.Wait(ctx); err != nil {
					q.finish(it, err)
					return
				}
			}
			q.finish(it, q.execute(ctx, it))
		}(it)
	}
	wg.Wait()

	q.mu.Lock()
	q.lastSync = q.now()
	q.updateGaugesLocked()
	q.mu.Unlock()
	telemetry.IncSyncPass()
	logger.Debug("sync_pass_complete", "batch", len(batch))
	return true
}

// Close stops the drain loop and waits for an in-flight pass started by
// it. Subsequent Enqueue and Process calls fail or no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	if q.unsub != nil {
		q.unsub()
	}
	close(q.stop)
	q.wg.Wait()
}

func (q *Queue) online() bool {
	return q.opts.Monitor == nil || q.opts.Monitor.Online()
}

func (q *Queue) execute(ctx context.Context, it *Item) error {
	exec := it.exec
	if exec == nil {
		exec = q.opts.Exec
	}
	if exec == nil {
		return ErrNoExecutor
	}
	cp := *it
	cp.exec = nil
	cp.ticket = nil
	return exec(ctx, cp)
}

// finish settles one execution outcome. The item may have been removed
// while in flight; its result is then discarded.
func (q *Queue) finish(it *Item, err error) {
	q.mu.Lock()
	cur, present := q.items[it.ID]
	if !present || cur != it {
		q.mu.Unlock()
		logger.Debug("item_outcome_discarded", "id", it.ID)
		return
	}
	if err == nil {
		it.Status = StatusCompleted
		it.Attempts++
		q.removeLocked(it.ID)
		q.persistLocked()
		q.updateGaugesLocked()
		cp := *it
		q.mu.Unlock()
		telemetry.IncSyncAttempt(true)
		it.ticket.resolve(nil)
		q.notifyCompleted(cp)
		logger.Debug("item_completed", "id", it.ID, "type", it.Type, "attempts", it.Attempts)
		return
	}

	it.Attempts++
	telemetry.IncSyncAttempt(false)
	if it.Attempts > q.opts.MaxRetries {
		it.Status = StatusFailed
		it.LastError = err.Error()
		it.NextAttemptAt = time.Time{}
		q.persistLocked()
		q.updateGaugesLocked()
		cp := *it
		q.mu.Unlock()
		it.ticket.resolve(err)
		q.notifyFailed(cp, err)
		logger.Warn("item_failed", "id", it.ID, "type", it.Type, "attempts", it.Attempts, "error", err)
		return
	}

	delay := nextDelay(q.opts.RetryDelay, it.Attempts, q.opts.Jitter)
	it.Status = StatusRetrying
	it.LastError = err.Error()
	it.NextAttemptAt = q.now().Add(delay)
	q.persistLocked()
	q.updateGaugesLocked()
	q.mu.Unlock()
	logger.Debug("item_retry_scheduled", "id", it.ID, "attempts", it.Attempts, "delay", delay)
	q.SyncNow()
}

func (q *Queue) removeLocked(id string) {
	delete(q.items, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *Queue) updateGaugesLocked() {
	var pending, failed int
	for _, it := range q.items {
		if it.Status == StatusFailed {
			failed++
		} else {
			pending++
		}
	}
	telemetry.SetQueueGauges(len(q.items), pending, failed)
}

func (q *Queue) notifyCompleted(it Item) {
	if q.opts.OnCompleted == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("completion_hook_panicked", "id", it.ID, "panic", r)
		}
	}()
	q.opts.OnCompleted(it)
}

func (q *Queue) notifyFailed(it Item, err error) {
	if q.opts.OnFailed == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("failure_hook_panicked", "id", it.ID, "panic", r)
		}
	}()
	q.opts.OnFailed(it, err)
}
