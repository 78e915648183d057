package app

import (
	"fmt"
	"net/url"

	"upsync/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if p := cfg.Server.Port; p < 0 || p > 65535 {
		return fmt.Errorf("invalid server.port %d: must be between 1 and 65535", p)
	}

	// snapshot store path must be present unless storage is disabled
	if !cfg.Storage.Disabled && eff.DBPath == "" {
		return fmt.Errorf("snapshot store path is empty: set --db flag, UPSYNC_DB_PATH env, or storage.path in config")
	}

	if raw := eff.RemoteURL; raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid remote.base_url %q: must be an http(s) URL", raw)
		}
	}
	if raw := cfg.Probe.URL; raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid probe.url %q: must be an http(s) URL", raw)
		}
	}

	if j := cfg.Queue.Jitter; j >= 1 {
		return fmt.Errorf("invalid queue.jitter %v: must be a fraction below 1 (negative disables jitter)", j)
	}
	if n := cfg.Queue.BatchSize; n < 0 {
		return fmt.Errorf("invalid queue.batch_size %d: must not be negative", n)
	}
	if n := cfg.Queue.MaxRetries; n < 0 {
		return fmt.Errorf("invalid queue.max_retries %d: must not be negative", n)
	}
	if n := cfg.Queue.MaxItems; n < 0 {
		return fmt.Errorf("invalid queue.max_items %d: must not be negative", n)
	}
	if r := cfg.Queue.Rate.RPS; r < 0 {
		return fmt.Errorf("invalid queue.rate.rps %v: must not be negative", r)
	}
	if n := cfg.Queue.Rate.Burst; n < 0 {
		return fmt.Errorf("invalid queue.rate.burst %d: must not be negative", n)
	}

	if n := cfg.Cache.MaxEntries; n < 0 {
		return fmt.Errorf("invalid cache.max_entries %d: must not be negative", n)
	}
	if n := cfg.Probe.Failures; n < 0 {
		return fmt.Errorf("invalid probe.failures %d: must not be negative", n)
	}

	return nil
}
