package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"

	"upsync/internal/app"
	"upsync/pkg/config"
	"upsync/pkg/logger"
	"upsync/pkg/shutdown"
)

// set build metadata - overridden via ldflags during release builds
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")
	logger.Init()

	// parse config flags
	flags := config.ParseConfigFlags()

	// parse config file
	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		shutdown.Abort("failed to load config file", err, flags.DB)
	}

	// apply env overrides onto the file config
	envUsed := config.ApplyEnvOverrides(fileCfg)

	// load effective config
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envUsed)
	if err != nil {
		shutdown.Abort("failed to build effective config", err, flags.DB)
	}

	// reinitialize the logger once the configured level is known
	logger.InitWithLevel(eff.Config.Logging.Level)

	logger.Info("effective_config_loaded",
		"source", eff.Source,
		"addr", eff.Addr,
		"db_path", eff.DBPath,
		"remote", eff.RemoteURL)

	// initialize app
	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("failed to initialize app", err, eff.DBPath)
	}

	// set up context and signal handling for graceful shutdown
	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	// run the app
	if err := a.Run(ctx); err != nil {
		shutdown.Abort("app run failed", err, eff.DBPath)
	}

	// shut down with a bounded timeout so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	_ = a.Shutdown(shutdownCtx)
}
