package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
)

// Janitor periodically releases rows stuck in a claim marker longer than
// the configured window. Claim markers are only ever held for the duration
// of one pipeline run, so a claim older than the window belongs to a
// worker that died mid-flight; releasing it puts the row back into
// contention.
type Janitor struct {
	store    datastore.Datastore
	interval time.Duration
	window   time.Duration
	logger   *slog.Logger
}

// NewJanitor creates a janitor sweeping every interval and releasing claims
// older than window. A nil logger defaults to slog.Default().
func NewJanitor(store datastore.Datastore, interval, window time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{store: store, interval: interval, window: window, logger: logger}
}

// Run sweeps until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		released, err := j.store.ReclaimStaleClaims(ctx, time.Now().UTC().Add(-j.window))
		if err != nil {
			j.logger.Error("stale claim sweep failed", "error", err)
			continue
		}
		if released > 0 {
			j.logger.Warn("released stale claims", "count", released, "window", j.window)
		}
	}
}
