package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
	"github.com/sirosfoundation/as4-gateway/pkg/agent"
	"github.com/sirosfoundation/as4-gateway/pkg/pipeline"
	"github.com/sirosfoundation/as4-gateway/pkg/pmode"
)

// InMessageTransformer lifts a claimed received message into a
// MessagingContext for the given flow. The PMode snapshot persisted on the
// message is restored eagerly; a message that cannot be interpreted fails
// transformation and never reaches the pipeline.
type InMessageTransformer struct {
	Mode   pipeline.Mode
	Logger *slog.Logger
}

func (t *InMessageTransformer) Transform(_ context.Context, msg *agent.ReceivedMessage) (*pipeline.MessagingContext, error) {
	m, ok := msg.Entity.(*datastore.InMessage)
	if !ok {
		return nil, fmt.Errorf("expected *datastore.InMessage, got %T", msg.Entity)
	}

	msgCtx := &pipeline.MessagingContext{Mode: t.Mode, InMessage: m}
	if m.PMode != "" {
		pm, err := pmode.DeserializeReceiving(m.PMode)
		if err != nil {
			return nil, fmt.Errorf("restoring pmode snapshot of %s: %w", m.EbmsMessageID, err)
		}
		msgCtx.ReceivingPMode = pm
	}
	return msgCtx, nil
}

// OutMessageTransformer lifts a claimed outgoing message into a
// MessagingContext for the given flow.
type OutMessageTransformer struct {
	Mode   pipeline.Mode
	Logger *slog.Logger
}

func (t *OutMessageTransformer) Transform(_ context.Context, msg *agent.ReceivedMessage) (*pipeline.MessagingContext, error) {
	m, ok := msg.Entity.(*datastore.OutMessage)
	if !ok {
		return nil, fmt.Errorf("expected *datastore.OutMessage, got %T", msg.Entity)
	}

	msgCtx := &pipeline.MessagingContext{Mode: t.Mode, OutMessage: m}
	if m.PMode != "" {
		pm, err := pmode.DeserializeSending(m.PMode)
		if err != nil {
			return nil, fmt.Errorf("restoring pmode snapshot of %s: %w", m.EbmsMessageID, err)
		}
		msgCtx.SendingPMode = pm
	}
	return msgCtx, nil
}

// ReceptionAwarenessTransformer lifts a claimed retry entry into a
// MessagingContext for the reception awareness scheduler.
type ReceptionAwarenessTransformer struct{}

func (t *ReceptionAwarenessTransformer) Transform(_ context.Context, msg *agent.ReceivedMessage) (*pipeline.MessagingContext, error) {
	entry, ok := msg.Entity.(*datastore.ReceptionAwareness)
	if !ok {
		return nil, fmt.Errorf("expected *datastore.ReceptionAwareness, got %T", msg.Entity)
	}
	return &pipeline.MessagingContext{Mode: pipeline.ModeRetry, ReceptionAwareness: entry}, nil
}

// RetryReliabilityTransformer lifts a claimed generic retry entry into a
// MessagingContext for the retry scheduler.
type RetryReliabilityTransformer struct{}

func (t *RetryReliabilityTransformer) Transform(_ context.Context, msg *agent.ReceivedMessage) (*pipeline.MessagingContext, error) {
	entry, ok := msg.Entity.(*datastore.RetryReliability)
	if !ok {
		return nil, fmt.Errorf("expected *datastore.RetryReliability, got %T", msg.Entity)
	}
	return &pipeline.MessagingContext{Mode: pipeline.ModeRetry, RetryReliability: entry}, nil
}
