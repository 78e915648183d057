package store

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"upsync/pkg/logger"
)

// Pebble is a durable Engine backed by a pebble database. Writes are
// synchronous so a snapshot acknowledged to the adapter survives a crash.
type Pebble struct {
	db   *pebble.DB
	path string
}

// OpenPebble opens (or creates) a pebble database at the given path.
func OpenPebble(path string) (*Pebble, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	logger.Info("pebble_opened", "path", path)
	return &Pebble{db: db, path: path}, nil
}

func (p *Pebble) Get(key string) ([]byte, error) {
	if p == nil || p.db == nil {
		return nil, ErrNotFound
	}
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pebble) Set(key string, value []byte) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("pebble not opened")
	}
	return p.db.Set([]byte(key), value, pebble.Sync)
}

func (p *Pebble) Delete(key string) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("pebble not opened")
	}
	return p.db.Delete([]byte(key), pebble.Sync)
}

// Close closes the database. Further calls through the adapter degrade to
// no-ops.
func (p *Pebble) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	logger.Info("pebble_closed", "path", p.path)
	return err
}

// Ready reports whether the store is opened.
func (p *Pebble) Ready() bool {
	return p != nil && p.db != nil
}

// Path returns the on-disk directory of the database.
func (p *Pebble) Path() string {
	if p == nil {
		return ""
	}
	return p.path
}
