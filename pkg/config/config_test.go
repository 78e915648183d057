package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	content := []byte(`server:
  address: 127.0.0.1
  port: 9090
remote:
  base_url: http://upstream:9000
  timeout: 5s
storage:
  path: /tmp/upsync-data
queue:
  batch_size: 5
  max_retries: 4
  retry_delay: 250ms
  jitter: 0.1
  rate:
    rps: 10
    burst: 3
cache:
  max_entries: 64
  max_age: 2m
  max_value_size: 1MB
janitor:
  enabled: true
  cron: "0 3 * * *"
  failed_max_age: 48h
logging:
  level: debug
`)
	if err := os.WriteFile(p, content, 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Server.Port != 9090 {
		t.Fatalf("expected port 9090 got %d", c.Server.Port)
	}
	if c.Remote.BaseURL != "http://upstream:9000" {
		t.Fatalf("unexpected remote url %q", c.Remote.BaseURL)
	}
	if c.Remote.Timeout.Duration() != 5*time.Second {
		t.Fatalf("expected 5s timeout got %v", c.Remote.Timeout.Duration())
	}
	if c.Queue.BatchSize != 5 || c.Queue.MaxRetries != 4 {
		t.Fatalf("unexpected queue tunables: %+v", c.Queue)
	}
	if c.Queue.RetryDelay.Duration() != 250*time.Millisecond {
		t.Fatalf("expected 250ms retry delay got %v", c.Queue.RetryDelay.Duration())
	}
	if c.Cache.MaxValueSize.Int64() != 1000*1000 {
		t.Fatalf("expected 1MB got %d", c.Cache.MaxValueSize.Int64())
	}
	if c.Cache.MaxAge.Duration() != 2*time.Minute {
		t.Fatalf("expected 2m max age got %v", c.Cache.MaxAge.Duration())
	}
	if !c.Janitor.Enabled || c.Janitor.Cron != "0 3 * * *" {
		t.Fatalf("unexpected janitor config: %+v", c.Janitor)
	}
	if c.Janitor.FailedMaxAge.Duration() != 48*time.Hour {
		t.Fatalf("expected 48h got %v", c.Janitor.FailedMaxAge.Duration())
	}
}

func TestDurationAcceptsNumericSeconds(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(p, []byte("queue:\n  retry_delay: 2\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Queue.RetryDelay.Duration() != 2*time.Second {
		t.Fatalf("expected 2s got %v", c.Queue.RetryDelay.Duration())
	}
}

func TestResolveConfigPathPrefersEnv(t *testing.T) {
	os.Setenv("UPSYNC_CONFIG", "/from/env.yaml")
	defer os.Unsetenv("UPSYNC_CONFIG")
	if got := ResolveConfigPath("/nope", false); got != "/from/env.yaml" {
		t.Fatalf("expected env path, got %q", got)
	}
	if got := ResolveConfigPath("/flag.yaml", true); got != "/flag.yaml" {
		t.Fatalf("explicit flag must win, got %q", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	os.Setenv("UPSYNC_ADDR", "10.0.0.1:7070")
	os.Setenv("UPSYNC_REMOTE_URL", "http://up:1234")
	os.Setenv("UPSYNC_QUEUE_BATCH_SIZE", "9")
	os.Setenv("UPSYNC_CACHE_MAX_AGE", "90s")
	os.Setenv("UPSYNC_CACHE_MAX_VALUE_SIZE", "2MB")
	os.Setenv("UPSYNC_STORAGE_DISABLED", "true")
	defer func() {
		os.Unsetenv("UPSYNC_ADDR")
		os.Unsetenv("UPSYNC_REMOTE_URL")
		os.Unsetenv("UPSYNC_QUEUE_BATCH_SIZE")
		os.Unsetenv("UPSYNC_CACHE_MAX_AGE")
		os.Unsetenv("UPSYNC_CACHE_MAX_VALUE_SIZE")
		os.Unsetenv("UPSYNC_STORAGE_DISABLED")
	}()

	cfg := &Config{}
	if !ApplyEnvOverrides(cfg) {
		t.Fatalf("expected envUsed=true")
	}
	if cfg.Server.Address != "10.0.0.1" || cfg.Server.Port != 7070 {
		t.Fatalf("addr not applied: %+v", cfg.Server)
	}
	if cfg.Remote.BaseURL != "http://up:1234" {
		t.Fatalf("remote not applied: %q", cfg.Remote.BaseURL)
	}
	if cfg.Queue.BatchSize != 9 {
		t.Fatalf("batch size not applied: %d", cfg.Queue.BatchSize)
	}
	if cfg.Cache.MaxAge.Duration() != 90*time.Second {
		t.Fatalf("cache max age not applied: %v", cfg.Cache.MaxAge.Duration())
	}
	if cfg.Cache.MaxValueSize.Int64() != 2*1000*1000 {
		t.Fatalf("cache max value size not applied: %d", cfg.Cache.MaxValueSize.Int64())
	}
	if !cfg.Storage.Disabled {
		t.Fatalf("storage disabled not applied")
	}
}

func TestLoadEffectiveConfigFlagOverlay(t *testing.T) {
	fileCfg := &Config{}
	fileCfg.Server.Address = "0.0.0.0"
	fileCfg.Server.Port = 8080
	fileCfg.Storage.Path = "/file/path"
	fileCfg.Remote.BaseURL = "http://file"

	flags := Flags{
		Addr:   "127.0.0.1:9999",
		DB:     "/flag/path",
		Remote: "http://flag",
		Set:    map[string]bool{"addr": true, "db": true, "remote": true},
	}
	res, err := LoadEffectiveConfig(flags, fileCfg, true, false)
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if res.Addr != "127.0.0.1:9999" {
		t.Fatalf("flag addr must win, got %q", res.Addr)
	}
	if res.DBPath != "/flag/path" {
		t.Fatalf("flag db must win, got %q", res.DBPath)
	}
	if res.RemoteURL != "http://flag" {
		t.Fatalf("flag remote must win, got %q", res.RemoteURL)
	}
	if res.Source != "flags, config" {
		t.Fatalf("unexpected source %q", res.Source)
	}
}

func TestLoadEffectiveConfigMissingExplicitFile(t *testing.T) {
	flags := Flags{Config: "/does/not/exist.yaml", Set: map[string]bool{"config": true}}
	if _, err := LoadEffectiveConfig(flags, &Config{}, false, false); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}
