package remote_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"upsync/pkg/remote"
)

func TestPushPostsPayload(t *testing.T) {
	var gotPath, gotCT string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCT = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := remote.NewClient(srv.URL, time.Second)
	if err := c.Push(context.Background(), "profile.update", []byte(`{"name":"ada"}`)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if gotPath != "/ops/profile.update" {
		t.Fatalf("path %q", gotPath)
	}
	if gotCT != "application/json" {
		t.Fatalf("content type %q", gotCT)
	}
	if string(gotBody) != `{"name":"ada"}` {
		t.Fatalf("body %q", gotBody)
	}
}

func TestPushReportsStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := remote.NewClient(srv.URL, time.Second)
	if err := c.Push(context.Background(), "metric.push", nil); err == nil {
		t.Fatal("expected an error for a 502 response")
	}
}

func TestFetchReadsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/profile:1" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"name":"ada"}`))
	}))
	defer srv.Close()

	c := remote.NewClient(srv.URL+"/", time.Second)
	b, err := c.Fetch(context.Background(), "profile:1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(b) != `{"name":"ada"}` {
		t.Fatalf("body %q", b)
	}
}

func TestFetchMapsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := remote.NewClient(srv.URL, time.Second)
	if _, err := c.Fetch(context.Background(), "missing"); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestPushHonorsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()

	c := remote.NewClient(srv.URL, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := c.Push(ctx, "profile.update", nil); err == nil {
		t.Fatal("expected a context error")
	}
}

func TestHealthURL(t *testing.T) {
	c := remote.NewClient("http://upstream:9000/", 0)
	if got := c.HealthURL(); got != "http://upstream:9000/healthz" {
		t.Fatalf("health url %q", got)
	}
}
