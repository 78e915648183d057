package store

import (
	"errors"

	"upsync/pkg/logger"
	"upsync/pkg/telemetry"
)

// ErrNotFound is returned by engines for absent keys.
var ErrNotFound = errors.New("store: key not found")

// Engine is the minimal durable key-value surface snapshots persist to.
type Engine interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// KV is the degraded adapter surface the queue and cache write through:
// absent keys are a plain miss and storage errors never propagate.
type KV interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Remove(key string)
}

// BestEffort adapts an Engine to the KV contract. Read misses are
// (nil, false); engine errors degrade to logged warnings so a broken
// store never breaks queue or cache operation.
type BestEffort struct {
	eng Engine
}

// NewBestEffort wraps eng. A nil engine yields an adapter whose writes
// are no-ops and whose reads always miss.
func NewBestEffort(eng Engine) *BestEffort {
	return &BestEffort{eng: eng}
}

func (b *BestEffort) Get(key string) ([]byte, bool) {
	if b == nil || b.eng == nil {
		return nil, false
	}
	v, err := b.eng.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Warn("store_get_failed", "key", key, "error", err)
			telemetry.IncSnapshotError()
		}
		return nil, false
	}
	return v, true
}

func (b *BestEffort) Set(key string, value []byte) {
	if b == nil || b.eng == nil {
		return
	}
	if err := b.eng.Set(key, value); err != nil {
		logger.Warn("store_set_failed", "key", key, "error", err)
		telemetry.IncSnapshotError()
	}
}

func (b *BestEffort) Remove(key string) {
	if b == nil || b.eng == nil {
		return
	}
	if err := b.eng.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		logger.Warn("store_delete_failed", "key", key, "error", err)
		telemetry.IncSnapshotError()
	}
}
