package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Status is the lifecycle state of a queued item. Transitions are
// monotonic within an attempt cycle: pending -> syncing -> completed,
// retrying or failed; retrying -> syncing -> ... Completed items leave
// the queue, failed items are retained until removed, cleared or pruned.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSyncing   Status = "syncing"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether the status ends an item's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ExecFunc performs the remote effect of one item. The queue imposes no
// timeout of its own; implementations honor ctx.
type ExecFunc func(ctx context.Context, it Item) error

// Item is one queued write operation. Payload is opaque to the queue and
// immutable after enqueue. The execute capability and result ticket are
// never serialized; restored items run under the queue's default
// executor.
type Item struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	LastAttemptAt time.Time       `json:"last_attempt_at"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`

	exec   ExecFunc
	ticket *Ticket
}

// QueueStatus is a point-in-time observation of the queue.
type QueueStatus struct {
	QueueLength  int       `json:"queue_length"`
	PendingCount int       `json:"pending_count"`
	FailedCount  int       `json:"failed_count"`
	IsSyncing    bool      `json:"is_syncing"`
	LastSyncTime time.Time `json:"last_sync_time"`
}

var (
	ErrQueueFull  = errors.New("syncq: queue full")
	ErrClosed     = errors.New("syncq: queue closed")
	ErrRemoved    = errors.New("syncq: item removed before completion")
	ErrNoExecutor = errors.New("syncq: no executor bound")
	ErrNotFound   = errors.New("syncq: item not found")
	ErrNotFailed  = errors.New("syncq: item not in failed state")
)

// Ticket is the awaitable result of an enqueued item. It resolves once:
// nil on completion, the final error on terminal failure, ErrRemoved if
// the item was removed or cleared first. Callers that want
// fire-and-forget semantics simply drop it.
type Ticket struct {
	ID string

	once sync.Once
	done chan struct{}
	err  error
}

func newTicket(id string) *Ticket {
	return &Ticket{ID: id, done: make(chan struct{})}
}

func (t *Ticket) resolve(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done is closed when the item reaches a terminal outcome.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Err returns the terminal outcome, or nil while the item is still in
// flight.
func (t *Ticket) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the item resolves or ctx expires.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
