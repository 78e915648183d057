package netmon

import (
	"sync"
)

// Monitor reports upstream reachability. Subscribers are invoked
// synchronously, in the transition's own call stack, and only when the
// online state actually changes.
type Monitor interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

// notifier carries the shared subscription bookkeeping for monitors.
type notifier struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(bool)
}

func (n *notifier) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *notifier) Subscribe(fn func(online bool)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func(bool))
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// set flips the online state and notifies subscribers on change. Handlers
// run outside the lock so they may call back into the monitor.
func (n *notifier) set(online bool) {
	n.mu.Lock()
	if n.online == online {
		n.mu.Unlock()
		return
	}
	n.online = online
	fns := make([]func(bool), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}

// Manual is a Monitor driven by explicit SetOnline calls. It backs tests
// and the operator connectivity override.
type Manual struct {
	notifier
}

// NewManual returns a Manual monitor with the given initial state.
func NewManual(online bool) *Manual {
	m := &Manual{}
	m.online = online
	return m
}

// SetOnline records the new state and notifies subscribers on transition.
func (m *Manual) SetOnline(v bool) {
	m.set(v)
}
