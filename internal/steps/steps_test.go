package steps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/internal/datastore/inmemory"
	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

var errBoom = errors.New("boom")

type stubDeliverer struct {
	err   error
	calls int
}

func (s *stubDeliverer) Deliver(_ context.Context, _ *datastore.InMessage) error {
	s.calls++
	return s.err
}

type stubDispatcher struct {
	err   error
	calls int
}

func (s *stubDispatcher) Dispatch(_ context.Context, _ *datastore.OutMessage) error {
	s.calls++
	return s.err
}

type capturePublisher struct {
	err       error
	published []Notification
}

func (p *capturePublisher) Publish(_ context.Context, n Notification) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, n)
	return nil
}

func seedReceivedMessage(t *testing.T, store *inmemory.Store, pm *pmode.ReceivingProcessingMode) *datastore.InMessage {
	t.Helper()

	m := &datastore.InMessage{
		EbmsMessageID: "in-1@test",
		MessageType:   datastore.MessageTypeUserMessage,
		Operation:     datastore.OperationToBeDelivered,
		Status:        datastore.InStatusReceived,
	}
	if pm != nil {
		snapshot, err := pmode.Serialize(pm)
		require.NoError(t, err)
		m.PModeID = pm.ID
		m.PMode = snapshot
	}
	require.NoError(t, store.InsertInMessage(context.Background(), m))
	return m
}

func seedOutgoingMessage(t *testing.T, store *inmemory.Store, pm *pmode.SendingProcessingMode) *datastore.OutMessage {
	t.Helper()

	m := &datastore.OutMessage{
		EbmsMessageID: "out-1@test",
		MessageType:   datastore.MessageTypeUserMessage,
		MEP:           datastore.MEPPush,
		Operation:     datastore.OperationSending,
		Status:        datastore.OutStatusCreated,
	}
	if pm != nil {
		snapshot, err := pmode.Serialize(pm)
		require.NoError(t, err)
		m.PModeID = pm.ID
		m.PMode = snapshot
	}
	require.NoError(t, store.InsertOutMessage(context.Background(), m))
	return m
}

func retryEnabledReceivingPMode() *pmode.ReceivingProcessingMode {
	return &pmode.ReceivingProcessingMode{
		ID: "pm-recv",
		MessageHandling: pmode.MessageHandling{
			Deliver: pmode.Deliver{
				Enabled: true,
				Retry: pmode.RetryPolicy{
					Enabled:       true,
					MaxRetryCount: 3,
					RetryInterval: pmode.Duration(time.Minute),
				},
			},
		},
	}
}

func awarenessEnabledSendingPMode() *pmode.SendingProcessingMode {
	return &pmode.SendingProcessingMode{
		ID:         "pm-send",
		MEPBinding: pmode.Push,
		Reliability: pmode.SendReliability{
			ReceptionAwareness: pmode.ReceptionAwareness{
				Enabled:       true,
				RetryCount:    5,
				RetryInterval: pmode.Duration(5 * time.Second),
			},
		},
	}
}

func requireStop(t *testing.T, result pipeline.StepResult) {
	t.Helper()
	require.True(t, result.Succeeded, "result error: %v", result.Error)
	require.False(t, result.CanProceed)
}

func requireProceed(t *testing.T, result pipeline.StepResult) {
	t.Helper()
	require.True(t, result.Succeeded, "result error: %v", result.Error)
	require.True(t, result.CanProceed)
}
