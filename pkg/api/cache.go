package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"upsync/pkg/prefetch"
	"upsync/pkg/remote"
	"upsync/pkg/utils"
)

// cacheEntry is the wire view of one cached value, value elided.
type cacheEntry struct {
	Key        string    `json:"key"`
	ValueBytes int       `json:"value_bytes"`
	StoredAt   time.Time `json:"stored_at"`
}

// cacheKey extracts and unescapes the {key} path variable. Path
// variables are not automatically unescaped by gorilla/mux.
func cacheKey(r *http.Request) (string, bool) {
	key, err := url.PathUnescape(mux.Vars(r)["key"])
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

// listCache handles GET /cache with all entries, oldest first.
func (a *API) listCache(w http.ResponseWriter, r *http.Request) {
	entries := a.cache.Entries()
	out := make([]cacheEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, cacheEntry{Key: e.Key, ValueBytes: len(e.Value), StoredAt: e.StoredAt})
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Entries []cacheEntry `json:"entries"`
	}{Entries: out})
}

// getCacheValue handles GET /cache/{key}, serving only fresh values.
func (a *API) getCacheValue(w http.ResponseWriter, r *http.Request) {
	key, ok := cacheKey(r)
	if !ok {
		http.Error(w, `{"error":"invalid key"}`, http.StatusBadRequest)
		return
	}
	v, ok := a.cache.Get(key)
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "cache miss")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(v)
}

// setCacheValue handles PUT /cache/{key} with a raw JSON document body.
func (a *API) setCacheValue(w http.ResponseWriter, r *http.Request) {
	key, ok := cacheKey(r)
	if !ok {
		http.Error(w, `{"error":"invalid key"}`, http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBody))
	if err != nil {
		utils.JSONError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if !a.cache.Set(key, body) {
		utils.JSONError(w, http.StatusBadRequest, "value rejected")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// invalidateCacheKey handles DELETE /cache/{key}.
func (a *API) invalidateCacheKey(w http.ResponseWriter, r *http.Request) {
	key, ok := cacheKey(r)
	if !ok {
		http.Error(w, `{"error":"invalid key"}`, http.StatusBadRequest)
		return
	}
	if !a.cache.Invalidate(key) {
		utils.JSONError(w, http.StatusNotFound, "unknown key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clearCache handles DELETE /cache.
func (a *API) clearCache(w http.ResponseWriter, r *http.Request) {
	a.cache.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// prefetchKey handles POST /cache/{key}/prefetch. Without parameters it
// fetches through the upstream and returns the value; with
// ?lazy=<duration> it schedules a background fetch and returns
// immediately.
func (a *API) prefetchKey(w http.ResponseWriter, r *http.Request) {
	key, ok := cacheKey(r)
	if !ok {
		http.Error(w, `{"error":"invalid key"}`, http.StatusBadRequest)
		return
	}
	if a.remote == nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "no remote configured")
		return
	}
	fn := func(ctx context.Context) ([]byte, error) {
		return a.remote.Fetch(ctx, key)
	}
	if lazyStr := r.URL.Query().Get("lazy"); lazyStr != "" {
		delay, err := time.ParseDuration(lazyStr)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid lazy duration")
			return
		}
		a.cache.FetchLazy(key, delay, fn)
		_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
		return
	}
	v, err := a.cache.Fetch(r.Context(), key, fn)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "not found upstream")
			return
		}
		if errors.Is(err, prefetch.ErrClosed) {
			utils.JSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		utils.JSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(v)
}
