// Package janitor runs the background maintenance loops: the periodic
// sweep of idle conversation state and, when the delivery journal is
// enabled, a cron-scheduled prune of old journal records.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"replyloop/pkg/journal"
	"replyloop/pkg/logger"
	"replyloop/pkg/state"
	"replyloop/pkg/telemetry"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultJournalCron   = "0 3 * * *"
	DefaultJournalMaxAge = 7 * 24 * time.Hour
)

// Options configures the janitor.
type Options struct {
	Table               *state.Table
	SweepInterval       time.Duration
	InactivityThreshold time.Duration

	JournalEnabled  bool
	JournalCron     string
	JournalMaxAge   time.Duration
	JournalMaxBytes int64
}

// Start launches the maintenance goroutines and returns a cancel func that
// stops them. The process normally never cancels until shutdown; tests use
// the cancel func directly.
func Start(ctx context.Context, opts Options) (context.CancelFunc, error) {
	if opts.Table == nil {
		return nil, fmt.Errorf("janitor requires a state table")
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.InactivityThreshold <= 0 {
		opts.InactivityThreshold = state.DefaultInactivityThreshold
	}

	cronExpr := opts.JournalCron
	if cronExpr == "" {
		cronExpr = DefaultJournalCron
	}
	if opts.JournalEnabled && !gronx.IsValid(cronExpr) {
		logger.Error("janitor_invalid_cron", "cron", opts.JournalCron)
		return nil, fmt.Errorf("invalid journal prune cron expression: %s", opts.JournalCron)
	}
	if opts.JournalMaxAge <= 0 {
		opts.JournalMaxAge = DefaultJournalMaxAge
	}

	ctx2, cancel := context.WithCancel(ctx)
	go runSweeper(ctx2, opts)
	if opts.JournalEnabled {
		go runJournalPruner(ctx2, opts, cronExpr)
	}
	logger.Info("janitor_started",
		"sweep_interval", opts.SweepInterval.String(),
		"inactivity_threshold", opts.InactivityThreshold.String(),
		"journal_prune", opts.JournalEnabled)
	return cancel, nil
}

// runSweeper evicts idle sender entries on a fixed interval.
func runSweeper(ctx context.Context, opts Options) {
	ticker := time.NewTicker(opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("janitor_sweeper_stopping")
			return
		case now := <-ticker.C:
			removed := opts.Table.Sweep(opts.InactivityThreshold, now)
			telemetry.SendersEvicted.Add(float64(removed))
			telemetry.ActiveSenders.Set(float64(opts.Table.Size()))
			if removed > 0 {
				logger.Info("inactive_senders_swept", "removed", removed, "remaining", opts.Table.Size())
			} else {
				logger.Debug("sweep_complete", "removed", 0, "remaining", opts.Table.Size())
			}
		}
	}
}

// runJournalPruner computes the next cron tick with gronx and sleeps until
// then, pruning the delivery journal at each tick.
func runJournalPruner(ctx context.Context, opts Options, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("janitor_pruner_stopping")
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
				logger.Info("janitor_pruner_stopping")
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			pruneOnce(opts)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				logger.Info("janitor_pruner_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			pruneOnce(opts)
		case <-ctx.Done():
			logger.Info("janitor_pruner_stopping")
			return
		}
	}
}

func pruneOnce(opts Options) {
	removed, err := journal.Prune(opts.JournalMaxAge, opts.JournalMaxBytes, time.Now())
	if err != nil {
		logger.Error("journal_prune_failed", "error", err)
		return
	}
	logger.Info("journal_pruned", "removed", removed, "size_bytes", journal.SizeBytes())
}
