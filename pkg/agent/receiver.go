package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ClaimFunc pulls up to limit units of work out of contention. Datastore
// receivers implement it with the store's exclusive-claim methods; an empty
// result means no work is available right now, never an error.
type ClaimFunc func(ctx context.Context, limit int) ([]*ReceivedMessage, error)

// PollingReceiver is a timer-driven receiver claiming batches of work from
// a datastore. It is the receive loop behind every store-backed agent.
type PollingReceiver struct {
	interval  time.Duration
	batchSize int
	claim     ClaimFunc
	logger    *slog.Logger

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewPollingReceiver creates a polling receiver. A nil logger defaults to
// slog.Default().
func NewPollingReceiver(interval time.Duration, batchSize int, claim ClaimFunc, logger *slog.Logger) *PollingReceiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingReceiver{
		interval:  interval,
		batchSize: batchSize,
		claim:     claim,
		logger:    logger,
		stopped:   make(chan struct{}),
	}
}

// StartReceiving polls on the configured interval, invoking onReceived for
// every claimed unit of work, until the context is cancelled or
// StopReceiving is called. Claim failures are logged and retried on the
// next tick.
func (r *PollingReceiver) StartReceiving(ctx context.Context, onReceived OnReceived) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopped:
			return nil
		case <-ticker.C:
		}

		msgs, err := r.claim(ctx, r.batchSize)
		if err != nil {
			r.logger.Error("claiming work failed", "error", err)
			continue
		}
		for _, msg := range msgs {
			if ctx.Err() != nil {
				// Shutdown raced the claim; the stale-claim janitor will
				// release anything left in a busy marker.
				return ctx.Err()
			}
			onReceived(ctx, msg)
		}
	}
}

// StopReceiving makes StartReceiving return after the current batch.
func (r *PollingReceiver) StopReceiving() {
	r.stopOnce.Do(func() { close(r.stopped) })
}
