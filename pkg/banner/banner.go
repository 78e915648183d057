package banner

import (
	"fmt"
	"strings"

	"upsync/pkg/config"
)

const banner = `
██╗   ██╗██████╗ ███████╗██╗   ██╗███╗   ██╗ ██████╗
██║   ██║██╔══██╗██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║   ██║██████╔╝███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║   ██║██╔═══╝ ╚════██║  ╚██╔╝  ██║╚██╗██║██║
╚██████╔╝██║     ███████║   ██║   ██║ ╚████║╚██████╗
 ╚═════╝ ╚═╝     ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// PrintWithEff prints the startup banner using an EffectiveConfigResult
// which provides richer context (config, addr, storage path, sources).
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	src := eff.Source
	if src == "" {
		src = "defaults"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config: %s\n", src)

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost:%s/v1/queue' -d '{\"type\": \"profile.update\", \"payload\": {\"name\": \"ada\"}}'\n", port(addr))
	fmt.Printf("curl 'http://localhost:%s/v1/cache/profile:ada'\n", port(addr))
	fmt.Printf("curl 'http://localhost:%s/v1/status'\n", port(addr))

	fmt.Println("\n== Production? =================================================")

	// Remote upstream
	if strings.TrimSpace(eff.RemoteURL) != "" {
		fmt.Printf("- Remote: %s\n", eff.RemoteURL)
	} else {
		fmt.Println("- Remote: MISSING (queued writes cannot drain; set --remote or remote.base_url)")
	}

	// Snapshot storage
	switch {
	case eff.Config != nil && eff.Config.Storage.Disabled:
		fmt.Println("- Storage: disabled (queue and cache will not survive restarts)")
	case eff.DBPath != "":
		fmt.Printf("- Storage: %s\n", eff.DBPath)
	default:
		fmt.Println("- Storage: not set (use --db or UPSYNC_DB_PATH)")
	}

	// Connectivity probe
	probeURL := ""
	if eff.Config != nil {
		probeURL = strings.TrimSpace(eff.Config.Probe.URL)
	}
	switch {
	case probeURL != "":
		fmt.Printf("- Probe: %s\n", probeURL)
	case strings.TrimSpace(eff.RemoteURL) != "":
		fmt.Println("- Probe: remote health endpoint")
	default:
		fmt.Println("- Probe: none (connectivity is manual via PUT /v1/connectivity)")
	}

	// Janitor
	janEnabled := false
	janCron := ""
	if eff.Config != nil {
		janEnabled = eff.Config.Janitor.Enabled
		janCron = eff.Config.Janitor.Cron
	}
	if janEnabled {
		if janCron != "" {
			fmt.Printf("- Janitor: enabled (cron=%s)\n", janCron)
		} else {
			fmt.Println("- Janitor: enabled")
		}
	} else {
		fmt.Println("- Janitor: disabled (failed items accumulate until pruned by hand)")
	}

	fmt.Println("\n== Logs: =================================================")
}

// port extracts the port from a host:port address for the curl examples.
func port(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "8080"
}
