package steps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/internal/datastore/inmemory"
	"github.com/sirosfoundation/as4-gateway/internal/services"
	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

func seedAwarenessEntry(t *testing.T, store *inmemory.Store, messageID int64, current, total int, lastSend time.Time) *datastore.ReceptionAwareness {
	t.Helper()

	entry := &datastore.ReceptionAwareness{
		InternalMessageID: messageID,
		Status:            datastore.RetryStatusBusy,
		CurrentRetryCount: current,
		TotalRetryCount:   total,
		RetryInterval:     5 * time.Second,
		LastSendTime:      lastSend,
	}
	require.NoError(t, store.InsertReceptionAwareness(context.Background(), entry))
	return entry
}

func TestReceptionAwarenessUpdateStep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	newStep := func(store *inmemory.Store) *ReceptionAwarenessUpdateStep {
		return &ReceptionAwarenessUpdateStep{
			Service: services.NewReceptionAwarenessService(store, nil),
			Now:     func() time.Time { return now },
		}
	}

	t.Run("answered message completes the entry", func(t *testing.T) {
		store := inmemory.NewStore()
		m := seedOutgoingMessage(t, store, nil)
		require.NoError(t, store.UpdateOutMessage(ctx, m.ID, func(out *datastore.OutMessage) {
			out.Status = datastore.OutStatusAck
		}))
		entry := seedAwarenessEntry(t, store, m.ID, 1, 5, now)

		requireProceed(t, newStep(store).Execute(ctx, &pipeline.MessagingContext{ReceptionAwareness: entry}))

		closed, err := store.GetReceptionAwareness(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, datastore.RetryStatusCompleted, closed.Status)
	})

	t.Run("entry not yet due is handed back", func(t *testing.T) {
		store := inmemory.NewStore()
		m := seedOutgoingMessage(t, store, nil)
		entry := seedAwarenessEntry(t, store, m.ID, 1, 5, now)

		requireProceed(t, newStep(store).Execute(ctx, &pipeline.MessagingContext{ReceptionAwareness: entry}))

		reset, err := store.GetReceptionAwareness(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, datastore.RetryStatusPending, reset.Status)
		assert.Equal(t, 1, reset.CurrentRetryCount)
	})

	t.Run("exhausted entry dead-letters the message", func(t *testing.T) {
		store := inmemory.NewStore()
		m := seedOutgoingMessage(t, store, nil)
		// Not yet due: exhaustion must close the entry regardless, or it
		// would cycle through Pending forever.
		entry := seedAwarenessEntry(t, store, m.ID, 6, 5, now)

		requireProceed(t, newStep(store).Execute(ctx, &pipeline.MessagingContext{ReceptionAwareness: entry}))

		dead, err := store.GetOutMessage(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, datastore.OutStatusException, dead.Status)

		closed, err := store.GetReceptionAwareness(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, datastore.RetryStatusCompleted, closed.Status)
	})

	t.Run("entry at the budget still gets its final resend", func(t *testing.T) {
		store := inmemory.NewStore()
		m := seedOutgoingMessage(t, store, nil)
		entry := seedAwarenessEntry(t, store, m.ID, 5, 5, now.Add(-time.Hour))

		requireProceed(t, newStep(store).Execute(ctx, &pipeline.MessagingContext{ReceptionAwareness: entry}))

		queued, err := store.GetOutMessage(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, datastore.OperationToBeSent, queued.Operation)

		reopened, err := store.GetReceptionAwareness(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, 6, reopened.CurrentRetryCount)

		// The pass after the last permitted retry closes the entry.
		requireProceed(t, newStep(store).Execute(ctx, &pipeline.MessagingContext{ReceptionAwareness: reopened}))
		dead, err := store.GetOutMessage(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, datastore.OutStatusException, dead.Status)
	})

	t.Run("due entry queues a resend", func(t *testing.T) {
		store := inmemory.NewStore()
		m := seedOutgoingMessage(t, store, nil)
		entry := seedAwarenessEntry(t, store, m.ID, 1, 5, now.Add(-time.Hour))

		requireProceed(t, newStep(store).Execute(ctx, &pipeline.MessagingContext{ReceptionAwareness: entry}))

		queued, err := store.GetOutMessage(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, datastore.OperationToBeSent, queued.Operation)

		reopened, err := store.GetReceptionAwareness(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, reopened.CurrentRetryCount)
	})

	t.Run("missing entry fails", func(t *testing.T) {
		store := inmemory.NewStore()
		result := newStep(store).Execute(ctx, &pipeline.MessagingContext{})
		assert.False(t, result.Succeeded)
	})
}

func TestRetryUpdateStep_RequeuesReferencedMessage(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	svc := services.NewRetryService(store, nil)
	step := &RetryUpdateStep{Service: svc}

	m := seedReceivedMessage(t, store, nil)
	require.NoError(t, store.UpdateInMessage(ctx, m.EbmsMessageID, func(in *datastore.InMessage) {
		in.Operation = datastore.OperationUndetermined
	}))
	require.NoError(t, svc.RegisterRetry(ctx, m.EbmsMessageID, datastore.RetryTypeDelivery, pmode.RetryPolicy{
		Enabled:       true,
		MaxRetryCount: 3,
		RetryInterval: pmode.Duration(time.Minute),
	}))

	claimed, err := store.ClaimDueRetryReliability(ctx, time.Now().UTC().Add(time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	requireProceed(t, step.Execute(ctx, &pipeline.MessagingContext{RetryReliability: claimed[0]}))

	stored := store.InMessages()
	require.Len(t, stored, 1)
	assert.Equal(t, datastore.OperationToBeDelivered, stored[0].Operation)
}
