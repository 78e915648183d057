package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestManualNotifiesOnTransitionOnly(t *testing.T) {
	m := NewManual(false)
	if m.Online() {
		t.Fatalf("expected initial offline")
	}

	var calls []bool
	cancel := m.Subscribe(func(online bool) { calls = append(calls, online) })
	defer cancel()

	m.SetOnline(false) // no transition
	if len(calls) != 0 {
		t.Fatalf("no-op set must not notify, got %v", calls)
	}
	m.SetOnline(true)
	// delivery is synchronous, so the handler has already run here
	if len(calls) != 1 || !calls[0] {
		t.Fatalf("expected one online notification, got %v", calls)
	}
	m.SetOnline(true)
	m.SetOnline(false)
	if len(calls) != 2 || calls[1] {
		t.Fatalf("expected offline notification, got %v", calls)
	}
}

func TestManualUnsubscribe(t *testing.T) {
	m := NewManual(true)
	n := 0
	cancel := m.Subscribe(func(bool) { n++ })
	m.SetOnline(false)
	cancel()
	m.SetOnline(true)
	if n != 1 {
		t.Fatalf("expected exactly one notification before unsubscribe, got %d", n)
	}
}

func TestManualHandlerMayCallBack(t *testing.T) {
	m := NewManual(false)
	var seen bool
	m.Subscribe(func(online bool) {
		// reentrant read must not deadlock
		seen = m.Online() == online
	})
	m.SetOnline(true)
	if !seen {
		t.Fatalf("handler did not observe the new state")
	}
}

func TestProberTransitions(t *testing.T) {
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber(ProberOptions{
		URL:      srv.URL + "/healthz",
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Failures: 2,
	})
	defer p.Close()

	events := make(chan bool, 16)
	cancel := p.Subscribe(func(online bool) { events <- online })
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	p.Start(ctx)

	// healthy upstream keeps the prober online; no transition expected
	select {
	case ev := <-events:
		t.Fatalf("unexpected transition %v while healthy", ev)
	case <-time.After(100 * time.Millisecond):
	}

	failing.Store(true)
	select {
	case ev := <-events:
		if ev {
			t.Fatalf("expected offline transition, got online")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for offline transition")
	}
	if p.Online() {
		t.Fatalf("prober should report offline")
	}

	failing.Store(false)
	select {
	case ev := <-events:
		if !ev {
			t.Fatalf("expected online transition, got offline")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for online transition")
	}
	if !p.Online() {
		t.Fatalf("prober should report online")
	}
}

func TestProberUnreachableHostGoesOffline(t *testing.T) {
	p := NewProber(ProberOptions{
		URL:      "http://127.0.0.1:1/healthz",
		Interval: 10 * time.Millisecond,
		Timeout:  200 * time.Millisecond,
		Failures: 1,
	})
	defer p.Close()

	events := make(chan bool, 4)
	p.Subscribe(func(online bool) { events <- online })
	p.Start(context.Background())

	select {
	case ev := <-events:
		if ev {
			t.Fatalf("expected offline transition")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for offline transition")
	}
}

func TestProberCloseIsIdempotent(t *testing.T) {
	p := NewProber(ProberOptions{
		URL:      "http://127.0.0.1:1/healthz",
		Interval: 10 * time.Millisecond,
		Timeout:  100 * time.Millisecond,
		Failures: 1,
	})
	p.Start(context.Background())

	// concurrent and repeated closes must not panic
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Close()
		}()
	}
	wg.Wait()
	p.Close()
}
