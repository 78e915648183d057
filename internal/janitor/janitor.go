package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"upsync/pkg/logger"
	"upsync/pkg/prefetch"
	"upsync/pkg/syncq"
)

const (
	DefaultCron         = "0 2 * * *"
	DefaultFailedMaxAge = 168 * time.Hour
)

// Options configures the janitor, which prunes exhausted queue items
// and sweeps the cache on a cron schedule.
type Options struct {
	Enabled      bool
	Cron         string
	FailedMaxAge time.Duration

	Queue *syncq.Queue
	Cache *prefetch.Cache
}

// Start launches the janitor scheduler if enabled and returns a cancel
// func. Disabled, it returns a no-op cancel.
func Start(ctx context.Context, opts Options) (context.CancelFunc, error) {
	if !opts.Enabled {
		logger.Info("janitor_disabled")
		return func() {}, nil
	}
	cronExpr := opts.Cron
	if cronExpr == "" {
		cronExpr = DefaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("janitor_invalid_cron", "cron", opts.Cron)
		return nil, fmt.Errorf("invalid janitor cron expression: %s", opts.Cron)
	}
	if opts.FailedMaxAge <= 0 {
		opts.FailedMaxAge = DefaultFailedMaxAge
	}

	logger.Info("janitor_enabled", "cron", cronExpr, "failed_max_age", opts.FailedMaxAge)
	ctx2, cancel := context.WithCancel(ctx)
	go run(ctx2, opts, cronExpr)
	return cancel, nil
}

// run computes the next cron tick, sleeps until it, and triggers a
// janitor pass. gronx supports full cron syntax, so the schedule is as
// sharp as the expression.
func run(ctx context.Context, opts Options, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("janitor_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("janitor_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("janitor_stopping")
			return
		}
		RunOnce(opts)
	}
}

// RunOnce performs a single janitor pass: drop failed items older than
// the cutoff and sweep expired cache entries.
func RunOnce(opts Options) {
	var pruned, swept int
	if opts.Queue != nil {
		pruned = opts.Queue.PruneFailed(opts.FailedMaxAge)
	}
	if opts.Cache != nil {
		swept = opts.Cache.Sweep()
	}
	if opts.Queue != nil {
		st := opts.Queue.Status()
		logger.Info("janitor_run_complete",
			"pruned", pruned, "swept", swept,
			"queue_length", st.QueueLength, "failed", st.FailedCount)
	}
}
