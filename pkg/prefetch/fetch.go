package prefetch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"upsync/pkg/logger"
	"upsync/pkg/telemetry"
)

// FetchFunc loads the value for one key from the upstream.
type FetchFunc func(ctx context.Context) ([]byte, error)

// call is one in-flight fetch shared by concurrent callers.
type call struct {
	done chan struct{}
	val  []byte
	err  error
}

// Fetch returns the fresh cached value for key or loads it through fn.
// Concurrent fetches of the same key collapse onto a single upstream
// call and every caller receives that one outcome. Failures propagate
// to all callers and are never cached, so the next Fetch retries. The
// first caller's context governs the upstream call; a waiter whose own
// context expires stops waiting without cancelling the fetch.
func (c *Cache) Fetch(ctx context.Context, key string, fn FetchFunc) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := c.entries[key]; ok && c.freshLocked(e) {
		v := append([]byte(nil), e.Value...)
		c.mu.Unlock()
		telemetry.IncCacheHit()
		return v, nil
	}
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		telemetry.IncCacheMiss()
		telemetry.IncPrefetchShared()
		select {
		case <-cl.done:
			if cl.err != nil {
				return nil, cl.err
			}
			return append([]byte(nil), cl.val...), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()
	telemetry.IncCacheMiss()
	telemetry.PrefetchStarted()

	val, err := fn(ctx)
	if err == nil && !json.Valid(val) {
		err = fmt.Errorf("prefetch: value for %q is not valid JSON", key)
	}

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil && !c.closed && c.storeLocked(key, val) {
		c.persistLocked()
	}
	c.mu.Unlock()
	telemetry.PrefetchDone()

	cl.val, cl.err = val, err
	close(cl.done)

	if err != nil {
		logger.Warn("prefetch_failed", "key", key, "error", err)
		return nil, err
	}
	return val, nil
}

// FetchLazy schedules a background fetch of key after delay and returns
// immediately. The result lands in the cache; failures are logged and
// dropped. Pending lazy fetches are cancelled by Close.
func (c *Cache) FetchLazy(key string, delay time.Duration, fn FetchFunc) {
	if delay < 0 {
		delay = 0
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.lazy, t)
		c.mu.Unlock()
		_, _ = c.Fetch(context.Background(), key, fn)
	})
	c.lazy[t] = struct{}{}
	c.mu.Unlock()
	logger.Debug("lazy_prefetch_scheduled", "key", key, "delay", delay)
}
