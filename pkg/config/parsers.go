package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Remote string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult holds the merged configuration plus the resolved
// listen address, storage path and upstream URL.
type EffectiveConfigResult struct {
	Config    *Config
	Addr      string
	DBPath    string
	RemoteURL string
	Source    string // comma list of applied sources: "flags", "env", "config"
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./data", "snapshot store path")
	remotePtr := flag.String("remote", "", "upstream base URL")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Remote: *remotePtr, Config: *cfgPtr, Set: setFlags}
}

// ParseConfigFile resolves the config path and loads the YAML file. It
// returns the parsed config, a boolean indicating whether the file was
// present, and an error for fatal parsing problems.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ApplyEnvOverrides applies UPSYNC_* environment overrides onto cfg and
// reports whether any env vars were used.
func ApplyEnvOverrides(cfg *Config) bool {
	envUsed := false

	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			envUsed = true
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				envUsed = true
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			envUsed = true
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "yes":
				*dst = true
			default:
				*dst = false
			}
		}
	}
	setDur := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			if td, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				envUsed = true
				*dst = Duration(td)
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				envUsed = true
				*dst = f
			}
		}
	}
	setSize := func(key string, dst *SizeBytes) {
		if v := os.Getenv(key); v != "" {
			if s, err := parseSize(strings.TrimSpace(v)); err == nil {
				envUsed = true
				*dst = s
			}
		}
	}

	// Server address/port
	if v := os.Getenv("UPSYNC_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	} else {
		setStr("UPSYNC_SERVER_ADDRESS", &cfg.Server.Address)
		setInt("UPSYNC_SERVER_PORT", &cfg.Server.Port)
	}

	setStr("UPSYNC_DB_PATH", &cfg.Storage.Path)
	setBool("UPSYNC_STORAGE_DISABLED", &cfg.Storage.Disabled)

	setStr("UPSYNC_REMOTE_URL", &cfg.Remote.BaseURL)
	setDur("UPSYNC_REMOTE_TIMEOUT", &cfg.Remote.Timeout)

	setInt("UPSYNC_QUEUE_BATCH_SIZE", &cfg.Queue.BatchSize)
	setInt("UPSYNC_QUEUE_MAX_RETRIES", &cfg.Queue.MaxRetries)
	setDur("UPSYNC_QUEUE_RETRY_DELAY", &cfg.Queue.RetryDelay)
	setFloat("UPSYNC_QUEUE_JITTER", &cfg.Queue.Jitter)
	setInt("UPSYNC_QUEUE_MAX_ITEMS", &cfg.Queue.MaxItems)
	setDur("UPSYNC_QUEUE_ONLINE_INTERVAL", &cfg.Queue.OnlineInterval)
	setDur("UPSYNC_QUEUE_OFFLINE_INTERVAL", &cfg.Queue.OfflineInterval)
	setFloat("UPSYNC_QUEUE_RATE_RPS", &cfg.Queue.Rate.RPS)
	setInt("UPSYNC_QUEUE_RATE_BURST", &cfg.Queue.Rate.Burst)

	setInt("UPSYNC_CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)
	setDur("UPSYNC_CACHE_MAX_AGE", &cfg.Cache.MaxAge)
	setDur("UPSYNC_CACHE_SWEEP_INTERVAL", &cfg.Cache.SweepInterval)
	setSize("UPSYNC_CACHE_MAX_VALUE_SIZE", &cfg.Cache.MaxValueSize)

	setStr("UPSYNC_PROBE_URL", &cfg.Probe.URL)
	setDur("UPSYNC_PROBE_INTERVAL", &cfg.Probe.Interval)
	setDur("UPSYNC_PROBE_TIMEOUT", &cfg.Probe.Timeout)
	setInt("UPSYNC_PROBE_FAILURES", &cfg.Probe.Failures)

	setBool("UPSYNC_JANITOR_ENABLED", &cfg.Janitor.Enabled)
	setStr("UPSYNC_JANITOR_CRON", &cfg.Janitor.Cron)
	setDur("UPSYNC_JANITOR_FAILED_MAX_AGE", &cfg.Janitor.FailedMaxAge)

	setStr("UPSYNC_LOG_LEVEL", &cfg.Logging.Level)

	return envUsed
}

// LoadEffectiveConfig merges sources with precedence flags > env > file.
// An explicit --config requires the file to exist; flags only carry addr,
// db and remote, so everything else always comes from env/file.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envUsed bool) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	if flags.Set["config"] && !fileExists {
		return res, fmt.Errorf("config file %s not found", flags.Config)
	}

	cfg := fileCfg
	if cfg == nil {
		cfg = &Config{}
	}

	srcs := []string{}
	if flags.Set["addr"] || flags.Set["db"] || flags.Set["remote"] {
		srcs = append(srcs, "flags")
	}
	if envUsed {
		srcs = append(srcs, "env")
	}
	if fileExists {
		srcs = append(srcs, "config")
	}
	if len(srcs) == 0 {
		srcs = append(srcs, "defaults")
	}

	if flags.Set["addr"] {
		if h, p, err := net.SplitHostPort(flags.Addr); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = flags.Addr
		}
	}
	if flags.Set["db"] {
		cfg.Storage.Path = flags.DB
	}
	if flags.Set["remote"] {
		cfg.Remote.BaseURL = flags.Remote
	}

	if cfg.Storage.Path == "" && !cfg.Storage.Disabled {
		cfg.Storage.Path = flags.DB
	}

	res.Config = cfg
	res.Addr = cfg.Addr()
	res.DBPath = cfg.Storage.Path
	res.RemoteURL = cfg.Remote.BaseURL
	res.Source = strings.Join(srcs, ", ")
	return res, nil
}
