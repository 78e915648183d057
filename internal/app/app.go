package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"upsync/internal/janitor"
	"upsync/pkg/config"
	"upsync/pkg/logger"
	"upsync/pkg/netmon"
	"upsync/pkg/prefetch"
	"upsync/pkg/remote"
	"upsync/pkg/store"
	"upsync/pkg/syncq"
)

// App groups the daemon's components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	engine *store.Pebble // nil when storage is disabled
	kv     *store.BestEffort
	rc     *remote.Client // nil when no remote is configured

	monitor netmon.Monitor
	manual  *netmon.Manual // non-nil when connectivity is operator-driven
	prober  *netmon.Prober // non-nil when connectivity is probe-driven

	queue *syncq.Queue
	cache *prefetch.Cache

	janitorCancel context.CancelFunc
	srv           *http.Server
	state         string
}

// New sets up resources that don't need a running context: the snapshot
// store, the remote client, the connectivity monitor, the queue and the
// cache. It does not start any loops; call Run to start those and block
// for the lifecycle.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	// validate config and fail fast if not valid
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate, state: "created"}
	cfg := eff.Config

	// snapshot store; disabled runs memory-only and every write-through
	// degrades to a no-op
	if cfg.Storage.Disabled {
		logger.Info("storage_disabled")
		a.kv = store.NewBestEffort(nil)
	} else {
		eng, err := store.OpenPebble(eff.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot store at %s: %w", eff.DBPath, err)
		}
		a.engine = eng
		a.kv = store.NewBestEffort(eng)
		store.RegisterMetrics(eng)
	}

	if eff.RemoteURL != "" {
		a.rc = remote.NewClient(eff.RemoteURL, cfg.Remote.Timeout.Duration())
	} else {
		logger.Warn("no_remote_configured", "msg", "queued writes cannot drain and prefetch is disabled")
	}

	// connectivity: probe the remote health endpoint when we have one,
	// otherwise fall back to the operator override
	probeURL := cfg.Probe.URL
	if probeURL == "" && a.rc != nil {
		probeURL = a.rc.HealthURL()
	}
	if probeURL != "" {
		a.prober = netmon.NewProber(netmon.ProberOptions{
			URL:      probeURL,
			Interval: cfg.Probe.Interval.Duration(),
			Timeout:  cfg.Probe.Timeout.Duration(),
			Failures: cfg.Probe.Failures,
		})
		a.monitor = a.prober
		logger.Info("connectivity_probe_configured", "url", probeURL)
	} else {
		a.manual = netmon.NewManual(true)
		a.monitor = a.manual
		logger.Info("connectivity_manual", "online", true)
	}

	var limiter *rate.Limiter
	if cfg.Queue.Rate.RPS > 0 {
		burst := cfg.Queue.Rate.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Queue.Rate.RPS), burst)
	}

	var exec syncq.ExecFunc
	if a.rc != nil {
		rc := a.rc
		exec = func(ctx context.Context, it syncq.Item) error {
			return rc.Push(ctx, it.Type, it.Payload)
		}
	}

	a.queue = syncq.New(syncq.Options{
		BatchSize:       cfg.Queue.BatchSize,
		MaxRetries:      cfg.Queue.MaxRetries,
		RetryDelay:      cfg.Queue.RetryDelay.Duration(),
		Jitter:          cfg.Queue.Jitter,
		MaxItems:        cfg.Queue.MaxItems,
		OnlineInterval:  cfg.Queue.OnlineInterval.Duration(),
		OfflineInterval: cfg.Queue.OfflineInterval.Duration(),
		Store:           a.kv,
		Monitor:         a.monitor,
		Exec:            exec,
		Limiter:         limiter,
	})

	a.cache = prefetch.New(prefetch.Options{
		MaxEntries:    cfg.Cache.MaxEntries,
		MaxAge:        cfg.Cache.MaxAge.Duration(),
		SweepInterval: cfg.Cache.SweepInterval.Duration(),
		MaxValueSize:  cfg.Cache.MaxValueSize.Int64(),
		Store:         a.kv,
	})

	return a, nil
}

// Run starts the connectivity prober, the queue drain loop, the cache
// sweeper, the janitor and the HTTP server, and blocks until ctx is
// canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	if a.prober != nil {
		a.prober.Start(ctx)
	}
	a.queue.Start(ctx)
	a.cache.Start(ctx)

	cancel, err := janitor.Start(ctx, janitor.Options{
		Enabled:      a.eff.Config.Janitor.Enabled,
		Cron:         a.eff.Config.Janitor.Cron,
		FailedMaxAge: a.eff.Config.Janitor.FailedMaxAge.Duration(),
		Queue:        a.queue,
		Cache:        a.cache,
	})
	if err != nil {
		return err
	}
	a.janitorCancel = cancel

	a.state = "running"
	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
