package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/rolechat/internal/shared"
)

const (
	pruneMaxRetries = 3
	pruneBaseDelay  = 100 * time.Millisecond
)

// StartRetentionWorker runs a background goroutine that periodically deletes
// completions older than retention. It stops when ctx is cancelled.
func StartRetentionWorker(ctx context.Context, repo Repository, retention, interval time.Duration) {
	if retention <= 0 {
		slog.Info("Completion retention disabled")
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "retention", retention)

		PruneCompletions(ctx, repo, retention, time.Now)
		for {
			select {
			case <-ticker.C:
				PruneCompletions(ctx, repo, retention, time.Now)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// PruneCompletions deletes completions older than retention, retrying with
// exponential backoff when the database is locked.
func PruneCompletions(ctx context.Context, repo Repository, retention time.Duration, now func() time.Time) int64 {
	cutoff := now().Add(-retention)

	for i := 0; i < pruneMaxRetries; i++ {
		deleted, err := repo.DeleteCompletionsBefore(ctx, cutoff)
		if err == nil {
			if deleted > 0 {
				slog.Info("Retention worker pruned completions", "count", deleted, "cutoff", cutoff)
			}
			return deleted
		}

		if ctx.Err() != nil {
			slog.Debug("Retention worker: context canceled during prune", "error", err)
			return 0
		}
		if !shared.IsSQLiteConflictError(err) || i == pruneMaxRetries-1 {
			slog.Error("Retention worker failed to prune completions", "error", err, "attempts", i+1)
			return 0
		}

		delay := pruneBaseDelay * time.Duration(1<<i)
		slog.Debug("Retention worker: database locked, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(delay):
		}
	}
	return 0
}
