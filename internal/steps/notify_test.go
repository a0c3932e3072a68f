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

func TestNotifyConsumerStep_Outcomes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		msg         *pipeline.MessagingContext
		wantOutcome string
		wantDir     string
	}{
		{
			name: "acknowledged outgoing message",
			msg: &pipeline.MessagingContext{OutMessage: &datastore.OutMessage{
				EbmsMessageID: "out-1@test", Status: datastore.OutStatusAck,
			}},
			wantOutcome: OutcomeAcknowledged,
			wantDir:     DirectionOut,
		},
		{
			name: "rejected outgoing message",
			msg: &pipeline.MessagingContext{OutMessage: &datastore.OutMessage{
				EbmsMessageID: "out-1@test", Status: datastore.OutStatusNack,
			}},
			wantOutcome: OutcomeRejected,
			wantDir:     DirectionOut,
		},
		{
			name: "failed outgoing message",
			msg: &pipeline.MessagingContext{OutMessage: &datastore.OutMessage{
				EbmsMessageID: "out-1@test", Status: datastore.OutStatusException,
			}},
			wantOutcome: OutcomeFailure,
			wantDir:     DirectionOut,
		},
		{
			name: "failed received message",
			msg: &pipeline.MessagingContext{InMessage: &datastore.InMessage{
				EbmsMessageID: "in-1@test", Status: datastore.InStatusException,
			}},
			wantOutcome: OutcomeFailure,
			wantDir:     DirectionIn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := &capturePublisher{}
			step := &NotifyConsumerStep{Publisher: publisher}

			requireProceed(t, step.Execute(ctx, tt.msg))

			require.Len(t, publisher.published, 1)
			assert.Equal(t, tt.wantOutcome, publisher.published[0].Outcome)
			assert.Equal(t, tt.wantDir, publisher.published[0].Direction)
		})
	}
}

func TestNotifyConsumerStep_PublishFailure(t *testing.T) {
	step := &NotifyConsumerStep{Publisher: &capturePublisher{err: errBoom}}

	result := step.Execute(context.Background(), &pipeline.MessagingContext{
		OutMessage: &datastore.OutMessage{EbmsMessageID: "out-1@test"},
	})

	require.False(t, result.Succeeded)
	assert.ErrorIs(t, result.Error, errBoom)
}

func TestMarkMessageNotifiedStep(t *testing.T) {
	ctx := context.Background()

	t.Run("outgoing", func(t *testing.T) {
		store := inmemory.NewStore()
		m := seedOutgoingMessage(t, store, nil)
		step := &MarkMessageNotifiedStep{Store: store}

		requireProceed(t, step.Execute(ctx, &pipeline.MessagingContext{OutMessage: m}))

		notified, err := store.GetOutMessage(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, datastore.OperationNotified, notified.Operation)
	})

	t.Run("received", func(t *testing.T) {
		store := inmemory.NewStore()
		m := seedReceivedMessage(t, store, nil)
		step := &MarkMessageNotifiedStep{Store: store}

		requireProceed(t, step.Execute(ctx, &pipeline.MessagingContext{InMessage: m}))

		stored := store.InMessages()
		require.Len(t, stored, 1)
		assert.Equal(t, datastore.OperationNotified, stored[0].Operation)
	})
}

func TestScheduleNotifyRetryStep_ParksUnderPolicy(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	m := seedOutgoingMessage(t, store, nil)
	step := &ScheduleNotifyRetryStep{
		Store:   store,
		Retries: services.NewRetryService(store, nil),
		Policy: pmode.RetryPolicy{
			Enabled:       true,
			MaxRetryCount: 4,
			RetryInterval: pmode.Duration(time.Minute),
		},
	}

	result := step.Execute(ctx, &pipeline.MessagingContext{OutMessage: m})

	requireStop(t, result)
	parked, err := store.GetOutMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.OperationUndetermined, parked.Operation)

	exists, err := store.RetryReliabilityExists(ctx, m.EbmsMessageID, datastore.RetryTypeNotification)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestScheduleNotifyRetryStep_NoPolicyDropsNotification(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	m := seedOutgoingMessage(t, store, nil)
	step := &ScheduleNotifyRetryStep{
		Store:   store,
		Retries: services.NewRetryService(store, nil),
	}

	result := step.Execute(ctx, &pipeline.MessagingContext{OutMessage: m})

	requireStop(t, result)
	dropped, err := store.GetOutMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.OperationNotApplicable, dropped.Operation)

	exists, err := store.RetryReliabilityExists(ctx, m.EbmsMessageID, datastore.RetryTypeNotification)
	require.NoError(t, err)
	assert.False(t, exists)
}
