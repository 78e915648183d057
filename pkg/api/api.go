package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"upsync/pkg/logger"
	"upsync/pkg/netmon"
	"upsync/pkg/prefetch"
	"upsync/pkg/remote"
	"upsync/pkg/syncq"
	"upsync/pkg/utils"
)

const DefaultMaxBodyBytes = 1 << 20

// API is the admin plane of the sync daemon: queue inspection and
// control, cache inspection and control, and the connectivity override.
// It is an operator surface and carries no authentication.
type API struct {
	queue    *syncq.Queue
	cache    *prefetch.Cache
	remote   *remote.Client
	monitor  netmon.Monitor
	override *netmon.Manual
	maxBody  int64
}

// Options wires the API to its subsystems. Remote may be nil, which
// disables the prefetch endpoints; Override may be nil, which disables
// the connectivity override.
type Options struct {
	Queue        *syncq.Queue
	Cache        *prefetch.Cache
	Remote       *remote.Client
	Monitor      netmon.Monitor
	Override     *netmon.Manual
	MaxBodyBytes int64
}

func New(opts Options) *API {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &API{
		queue:    opts.Queue,
		cache:    opts.Cache,
		remote:   opts.Remote,
		monitor:  opts.Monitor,
		override: opts.Override,
		maxBody:  opts.MaxBodyBytes,
	}
}

// Register mounts all admin routes onto the provided router.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/status", a.getStatus).Methods(http.MethodGet)

	r.HandleFunc("/queue", a.listQueue).Methods(http.MethodGet)
	r.HandleFunc("/queue", a.enqueueItem).Methods(http.MethodPost)
	r.HandleFunc("/queue", a.clearQueue).Methods(http.MethodDelete)
	r.HandleFunc("/queue/sync", a.syncNow).Methods(http.MethodPost)
	r.HandleFunc("/queue/{id}", a.removeItem).Methods(http.MethodDelete)
	r.HandleFunc("/queue/{id}/retry", a.retryItem).Methods(http.MethodPost)

	r.HandleFunc("/cache", a.listCache).Methods(http.MethodGet)
	r.HandleFunc("/cache", a.clearCache).Methods(http.MethodDelete)
	r.HandleFunc("/cache/{key}", a.getCacheValue).Methods(http.MethodGet)
	r.HandleFunc("/cache/{key}", a.setCacheValue).Methods(http.MethodPut)
	r.HandleFunc("/cache/{key}", a.invalidateCacheKey).Methods(http.MethodDelete)
	r.HandleFunc("/cache/{key}/prefetch", a.prefetchKey).Methods(http.MethodPost)

	r.HandleFunc("/connectivity", a.getConnectivity).Methods(http.MethodGet)
	r.HandleFunc("/connectivity", a.setConnectivity).Methods(http.MethodPut)

	logger.Info("admin_routes_registered")
}

func (a *API) online() bool {
	return a.monitor == nil || a.monitor.Online()
}

// getStatus handles GET /status with a combined view of both
// subsystems.
func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Queue  syncq.QueueStatus    `json:"queue"`
		Cache  prefetch.CacheStatus `json:"cache"`
		Online bool                 `json:"online"`
	}{Queue: a.queue.Status(), Cache: a.cache.Status(), Online: a.online()})
}

func (a *API) getConnectivity(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, map[string]bool{"online": a.online()})
}

// setConnectivity handles PUT /connectivity. It only works when the
// daemon runs on a manual monitor; with a live prober the override
// would be overwritten by the next probe.
func (a *API) setConnectivity(w http.ResponseWriter, r *http.Request) {
	if a.override == nil {
		utils.JSONError(w, http.StatusConflict, "connectivity override not enabled")
		return
	}
	var req struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody)).Decode(&req); err != nil || req.Online == nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	a.override.SetOnline(*req.Online)
	logger.Info("connectivity_overridden", "online", *req.Online)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]bool{"online": *req.Online})
}
