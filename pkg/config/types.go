package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Remote  RemoteConfig  `yaml:"remote"`
	Storage StorageConfig `yaml:"storage"`
	Queue   QueueConfig   `yaml:"queue"`
	Cache   CacheConfig   `yaml:"cache"`
	Probe   ProbeConfig   `yaml:"probe"`
	Janitor JanitorConfig `yaml:"janitor"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the admin/status HTTP listener settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// RemoteConfig points at the upstream service queued writes drain to and
// prefetches read from.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// StorageConfig holds the durable snapshot store settings. Disabled runs
// the daemon memory-only (no restart resume).
type StorageConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// QueueConfig tunes the sync queue. Zero values take the queue defaults;
// Jitter < 0 disables jitter entirely.
type QueueConfig struct {
	BatchSize       int        `yaml:"batch_size"`
	MaxRetries      int        `yaml:"max_retries"`
	RetryDelay      Duration   `yaml:"retry_delay"`
	Jitter          float64    `yaml:"jitter"`
	MaxItems        int        `yaml:"max_items"`
	OnlineInterval  Duration   `yaml:"online_interval"`
	OfflineInterval Duration   `yaml:"offline_interval"`
	Rate            RateConfig `yaml:"rate"`
}

// RateConfig paces execution starts during a drain pass. RPS 0 disables
// pacing.
type RateConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// CacheConfig tunes the prefetch cache.
type CacheConfig struct {
	MaxEntries    int       `yaml:"max_entries"`
	MaxAge        Duration  `yaml:"max_age"`
	SweepInterval Duration  `yaml:"sweep_interval"`
	MaxValueSize  SizeBytes `yaml:"max_value_size"`
}

// ProbeConfig tunes the connectivity prober. URL defaults to the remote
// health endpoint when empty; Failures is the consecutive-failure count
// that flips the monitor offline.
type ProbeConfig struct {
	URL      string   `yaml:"url"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
	Failures int      `yaml:"failures"`
}

// JanitorConfig holds configuration for the scheduled maintenance runner.
type JanitorConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Cron         string   `yaml:"cron"`
	FailedMaxAge Duration `yaml:"failed_max_age"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	v, err := parseSize(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// parseSize accepts human-friendly sizes ("64MB") or plain integers. Env
// overrides and YAML scalars share it.
func parseSize(raw string) (SizeBytes, error) {
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
