package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimMarkerPairs(t *testing.T) {
	pairs := map[Operation]Operation{
		OperationToBeProcessed: OperationProcessing,
		OperationToBeSent:      OperationSending,
		OperationToBeDelivered: OperationDelivering,
		OperationToBeNotified:  OperationNotifying,
		OperationToBeForwarded: OperationForwarding,
	}

	for pending, busy := range pairs {
		marker, ok := pending.ClaimMarker()
		require.True(t, ok, "%s must be claimable", pending)
		assert.Equal(t, busy, marker)

		released, ok := busy.Released()
		require.True(t, ok, "%s must release", busy)
		assert.Equal(t, pending, released)

		assert.False(t, pending.IsClaimMarker())
		assert.True(t, busy.IsClaimMarker())
	}
}

func TestNonClaimableOperations(t *testing.T) {
	for _, op := range []Operation{
		OperationNotApplicable,
		OperationUndetermined,
		OperationSent,
		OperationDelivered,
		OperationNotified,
		OperationForwarded,
		OperationToBePiggyBacked,
	} {
		_, ok := op.ClaimMarker()
		assert.False(t, ok, "%s must not be claimable", op)
		assert.False(t, op.IsClaimMarker(), "%s is not a claim marker", op)
	}
}

func TestOperationIsTerminal(t *testing.T) {
	assert.True(t, OperationNotApplicable.IsTerminal())
	assert.True(t, OperationUndetermined.IsTerminal())
	assert.True(t, OperationDelivered.IsTerminal())
	assert.True(t, OperationNotified.IsTerminal())

	assert.False(t, OperationToBeProcessed.IsTerminal())
	assert.False(t, OperationProcessing.IsTerminal())
	assert.False(t, OperationToBeSent.IsTerminal())
}

func TestMessageTypeIsSignal(t *testing.T) {
	assert.False(t, MessageTypeUserMessage.IsSignal())
	assert.True(t, MessageTypeReceipt.IsSignal())
	assert.True(t, MessageTypeError.IsSignal())
	assert.True(t, MessageTypePullRequest.IsSignal())
}

func TestRefreshNextRetryTime(t *testing.T) {
	lastSend := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	ra := &ReceptionAwareness{LastSendTime: lastSend, RetryInterval: 5 * time.Second}
	ra.RefreshNextRetryTime()
	assert.Equal(t, lastSend.Add(5*time.Second), ra.NextRetryTime)

	rr := &RetryReliability{LastRetryTime: lastSend, RetryInterval: time.Minute}
	rr.RefreshNextRetryTime()
	assert.Equal(t, lastSend.Add(time.Minute), rr.NextRetryTime)
}
