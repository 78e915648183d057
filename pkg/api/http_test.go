package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"upsync/pkg/api"
	"upsync/pkg/netmon"
	"upsync/pkg/prefetch"
	"upsync/pkg/remote"
	"upsync/pkg/syncq"
)

type fixture struct {
	router *mux.Router
	queue  *syncq.Queue
	cache  *prefetch.Cache
}

func newFixture(t *testing.T, opts api.Options) *fixture {
	t.Helper()
	if opts.Queue == nil {
		opts.Queue = syncq.New(syncq.Options{Jitter: -1})
	}
	if opts.Cache == nil {
		opts.Cache = prefetch.New(prefetch.Options{})
	}
	t.Cleanup(opts.Queue.Close)
	t.Cleanup(opts.Cache.Close)
	r := mux.NewRouter()
	api.New(opts).Register(r.PathPrefix("/v1").Subrouter())
	return &fixture{router: r, queue: opts.Queue, cache: opts.Cache}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t, api.Options{})
	w := f.do(t, http.MethodGet, "/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var out struct {
		Queue  syncq.QueueStatus    `json:"queue"`
		Cache  prefetch.CacheStatus `json:"cache"`
		Online bool                 `json:"online"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Queue.QueueLength != 0 || out.Cache.CacheSize != 0 || !out.Online {
		t.Fatalf("unexpected status: %+v", out)
	}
}

func TestQueueEnqueueListRemove(t *testing.T) {
	f := newFixture(t, api.Options{})

	w := f.do(t, http.MethodPost, "/v1/queue", `{"type":"profile.update","payload":{"name":"ada"}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("enqueue status %d: %s", w.Code, w.Body)
	}
	var created map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created["id"] == "" || created["status"] != "pending" {
		t.Fatalf("created: %v", created)
	}

	w = f.do(t, http.MethodGet, "/v1/queue", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status %d", w.Code)
	}
	var listed struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Items) != 1 {
		t.Fatalf("listed %d items", len(listed.Items))
	}
	it := listed.Items[0]
	if it["id"] != created["id"] || it["type"] != "profile.update" || it["status"] != "pending" {
		t.Fatalf("item view: %v", it)
	}
	if _, ok := it["payload"]; ok {
		t.Fatal("payload leaked into the listing")
	}
	if n, ok := it["payload_bytes"].(float64); !ok || int(n) != len(`{"name":"ada"}`) {
		t.Fatalf("payload_bytes: %v", it["payload_bytes"])
	}

	w = f.do(t, http.MethodDelete, "/v1/queue/"+created["id"], "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("remove status %d", w.Code)
	}
	if w = f.do(t, http.MethodDelete, "/v1/queue/"+created["id"], ""); w.Code != http.StatusNotFound {
		t.Fatalf("second remove status %d", w.Code)
	}
}

func TestQueueEnqueueValidation(t *testing.T) {
	f := newFixture(t, api.Options{})
	if w := f.do(t, http.MethodPost, "/v1/queue", `{"payload":{}}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing type status %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/queue", `{"type":`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json status %d", w.Code)
	}
}

func TestQueueFullMapsTo429(t *testing.T) {
	q := syncq.New(syncq.Options{Jitter: -1, MaxItems: 1})
	f := newFixture(t, api.Options{Queue: q})
	if w := f.do(t, http.MethodPost, "/v1/queue", `{"type":"a.b"}`); w.Code != http.StatusAccepted {
		t.Fatalf("first enqueue status %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/queue", `{"type":"a.b"}`); w.Code != http.StatusTooManyRequests {
		t.Fatalf("overflow status %d", w.Code)
	}
}

func TestQueueRetryEndpoint(t *testing.T) {
	q := syncq.New(syncq.Options{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Jitter:     -1,
		Exec: func(ctx context.Context, it syncq.Item) error {
			return errors.New("rejected")
		},
	})
	f := newFixture(t, api.Options{Queue: q})

	tk, err := q.Enqueue("profile.update", nil, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		q.Process(ctx)
		time.Sleep(5 * time.Millisecond)
	}
	if st := q.Status(); st.FailedCount != 1 {
		t.Fatalf("setup expected a failed item: %+v", st)
	}
	pending, err := q.Enqueue("metric.push", nil, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if w := f.do(t, http.MethodPost, "/v1/queue/nope/retry", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown retry status %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/queue/"+pending.ID+"/retry", ""); w.Code != http.StatusConflict {
		t.Fatalf("non-failed retry status %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/v1/queue/"+tk.ID+"/retry", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("retry status %d: %s", w.Code, w.Body)
	}
	items := q.Items()
	if items[0].ID != tk.ID || items[0].Status != syncq.StatusPending || items[0].Attempts != 0 {
		t.Fatalf("retried item: %+v", items[0])
	}
}

func TestQueueClearAndSync(t *testing.T) {
	f := newFixture(t, api.Options{})
	if w := f.do(t, http.MethodPost, "/v1/queue", `{"type":"a.b"}`); w.Code != http.StatusAccepted {
		t.Fatalf("enqueue status %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/queue/sync", ""); w.Code != http.StatusAccepted {
		t.Fatalf("sync status %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/v1/queue", ""); w.Code != http.StatusNoContent {
		t.Fatalf("clear status %d", w.Code)
	}
	if st := f.queue.Status(); st.QueueLength != 0 {
		t.Fatalf("queue not cleared: %+v", st)
	}
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t, api.Options{})

	if w := f.do(t, http.MethodPut, "/v1/cache/profile:1", `{"name":"ada"}`); w.Code != http.StatusNoContent {
		t.Fatalf("put status %d: %s", w.Code, w.Body)
	}
	w := f.do(t, http.MethodGet, "/v1/cache/profile:1", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"name":"ada"}` {
		t.Fatalf("get: %d %q", w.Code, w.Body)
	}

	w = f.do(t, http.MethodGet, "/v1/cache", "")
	var listed struct {
		Entries []map[string]any `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Entries) != 1 || listed.Entries[0]["key"] != "profile:1" {
		t.Fatalf("entries: %v", listed.Entries)
	}
	if _, ok := listed.Entries[0]["value"]; ok {
		t.Fatal("value leaked into the listing")
	}

	if w := f.do(t, http.MethodPut, "/v1/cache/bad", `not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid put status %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/v1/cache/profile:1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("invalidate status %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/v1/cache/profile:1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("second invalidate status %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/v1/cache/profile:1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("miss status %d", w.Code)
	}
}

func TestPrefetchEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/data/profile:1" {
			w.Write([]byte(`{"name":"ada"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	f := newFixture(t, api.Options{Remote: remote.NewClient(upstream.URL, time.Second)})

	w := f.do(t, http.MethodPost, "/v1/cache/profile:1/prefetch", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"name":"ada"}` {
		t.Fatalf("prefetch: %d %q", w.Code, w.Body)
	}
	if v, ok := f.cache.Get("profile:1"); !ok || string(v) != `{"name":"ada"}` {
		t.Fatalf("prefetched value not cached: %q %v", v, ok)
	}
	if w := f.do(t, http.MethodPost, "/v1/cache/missing/prefetch", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing upstream status %d: %s", w.Code, w.Body)
	}
}

func TestPrefetchLazyEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"warm":true}`))
	}))
	defer upstream.Close()

	f := newFixture(t, api.Options{Remote: remote.NewClient(upstream.URL, time.Second)})

	w := f.do(t, http.MethodPost, "/v1/cache/warmup/prefetch?lazy=10ms", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("lazy status %d: %s", w.Code, w.Body)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if v, ok := f.cache.Get("warmup"); ok {
			if string(v) != `{"warm":true}` {
				t.Fatalf("lazy value %q", v)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("lazy prefetch never landed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPrefetchWithoutRemote(t *testing.T) {
	f := newFixture(t, api.Options{})
	if w := f.do(t, http.MethodPost, "/v1/cache/k/prefetch", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", w.Code)
	}
}

func TestConnectivityOverride(t *testing.T) {
	man := netmon.NewManual(true)
	q := syncq.New(syncq.Options{Jitter: -1, Monitor: man})
	f := newFixture(t, api.Options{Queue: q, Monitor: man, Override: man})

	w := f.do(t, http.MethodPut, "/v1/connectivity", `{"online":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("override status %d: %s", w.Code, w.Body)
	}
	var st struct {
		Online bool `json:"online"`
	}
	w = f.do(t, http.MethodGet, "/v1/connectivity", "")
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Online {
		t.Fatal("override did not take effect")
	}
	if q.Process(context.Background()) {
		t.Fatal("queue processed while overridden offline")
	}
	if w := f.do(t, http.MethodPut, "/v1/connectivity", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing online field status %d", w.Code)
	}
}

func TestConnectivityOverrideDisabled(t *testing.T) {
	f := newFixture(t, api.Options{Monitor: netmon.NewManual(true)})
	if w := f.do(t, http.MethodPut, "/v1/connectivity", `{"online":true}`); w.Code != http.StatusConflict {
		t.Fatalf("status %d", w.Code)
	}
}
