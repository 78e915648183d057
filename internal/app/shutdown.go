package app

import (
	"context"

	"upsync/pkg/logger"
)

// Shutdown performs ordered teardown: stop accepting requests, stop the
// janitor and the loops, then close the store. Snapshots are written on
// every mutation, so closing only stops the moving parts.
func (a *App) Shutdown(ctx context.Context) error {
	a.state = "shutting_down"
	logger.Info("shutdown_requested")

	// stop accepting new requests
	if a.srv != nil {
		logger.Info("shutdown_stopping_http")
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown_http_error", "error", err)
		}
	}

	if a.janitorCancel != nil {
		logger.Info("shutdown_stopping_janitor")
		a.janitorCancel()
	}

	if a.queue != nil {
		logger.Info("shutdown_closing_queue")
		a.queue.Close()
	}
	if a.cache != nil {
		logger.Info("shutdown_closing_cache")
		a.cache.Close()
	}
	if a.prober != nil {
		logger.Info("shutdown_stopping_prober")
		a.prober.Close()
	}

	var err error
	if a.engine != nil {
		logger.Info("shutdown_closing_store")
		if err = a.engine.Close(); err != nil {
			logger.Error("shutdown_store_close_error", "error", err)
		}
	}
	if err == nil {
		a.state = "stopped"
	}
	logger.Info("shutdown_complete")
	return err
}
